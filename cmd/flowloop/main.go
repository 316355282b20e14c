package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/knadh/koanf"
	"github.com/lmittmann/tint"
	"github.com/theckman/yacspin"

	yml "gopkg.in/yaml.v2"

	"github.com/thermofluids/flowloop/config"
	"github.com/thermofluids/flowloop/operator"
	"github.com/thermofluids/flowloop/rig"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "flowloop.yml"
	k              = koanf.New(".")
)

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}

func setupconfig() config.Config {
	c, err := config.Load(k, ConfigFileName)
	if err != nil {
		fatal("error loading config", err)
	}
	return c
}

func root() {
	str := `flowloop acquires data from and controls a flow boiling test rig.
Sensors are scanned in bursts, steady state is decided from the tracked
sensors, and the heaters, pump and valve are stepped or run under PID control.

Usage:
	flowloop <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `flowloop is amenable to configuration via its .yaml file, flowloop.yml in
the working directory.  For a primer on YAML, see https://yaml.org/start.html

mkconf writes the defaults to flowloop.yml, a simulated rig with one
thermocouple and a power supply.  Set simulate: false to use the instruments.

Acquisition units and matching "kind" fields, case insensitive:
- simulated, args low, high, sweepTime
- Keithley DAQ6510 "daq6510", args addr (host:5025) or usb, vid, pid
- Agilent 34970A "34970a", args addr, serial

Sensor kinds:
	vdc, vac, resistance, thermocouple, pt100
	pressure (p_sensor), args signalLow, signalHigh, readingLow, readingHigh, scale
	rtd, args a, b, c, offset
	shunt_dc, shunt_ac, args resistance
	heater_dc, heater_ac, args shunt, calibration {a, b, c, offset}
	combined_power, args pairs [{heater, shunt}]
	manual_input, args primary
Every channel also takes settling, e.g. "5ms".

Device kinds:
- simulated
- EA PS 2384 "ea", args addr, nominalVoltage, inverter, inverterThreshold
- HNP Mikrosysteme pump "hnpm", args addr, rpmPerFlow
- HP 33120A "33120a", args addr, serial, multiplier, frequency
- Arduino valve "stepper" and "inverter", args addr

While running, type help for the console commands.  The same commands are
served over HTTP at addr, see GET /endpoints.`
	fmt.Println(str)
}

func mkconf() {
	c := setupconfig()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		fatal("creating config file", err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		fatal("writing config file", err)
	}
}

func printconf() {
	c := setupconfig()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		fatal("printing config", err)
	}
}

func pversion() {
	fmt.Printf("flowloop version %v\n", Version)
}

func spinner(msg string) *yacspin.Spinner {
	s, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " " + msg,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		fatal("making spinner", err)
	}
	return s
}

func run() {
	c := setupconfig()
	if err := c.Validate(); err != nil {
		fatal("invalid configuration", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	spin := spinner("opening instruments")
	spin.Start()
	r, err := rig.Build(ctx, c, os.Stdout, slog.Default())
	if err != nil {
		spin.StopFailMessage(err.Error())
		spin.StopFail()
		os.Exit(1)
	}
	spin.Stop()
	defer r.Close()

	m := r.Manager(slog.Default())
	go m.Run(ctx)

	if c.Addr != "" {
		router, _ := operator.NewRouter(ctx, m)
		srv := &http.Server{Addr: c.Addr, Handler: router}
		go func() {
			slog.Info("now listening for requests", "addr", c.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server", "err", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(sctx)
		}()
	}
	if c.Console {
		con := &operator.Console{In: os.Stdin, Out: os.Stdout, Ex: m}
		go func() {
			if err := con.Run(ctx); err != nil {
				slog.Warn("console", "err", err)
			}
		}()
	}
	<-m.Done()
	slog.Info("run complete", "run", m.RunID())
}

func main() {
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.TimeOnly,
	})))

	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		fatal("unknown command", errors.New(cmd))
	}
}
