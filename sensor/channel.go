package sensor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thermofluids/flowloop/alarm"
	"github.com/thermofluids/flowloop/device"
)

// DependencyTimeout bounds how long a channel waits on a peer it converts
// against, e.g. a heater on its shunt
const DependencyTimeout = 10 * time.Second

type burst struct {
	samples []float64
	at      time.Time
}

// Channel is a physical sensor wired to one channel of the acquisition unit
type Channel struct {
	*core
	kind   Kind
	number int
	conv   Converter
	after  []*device.Signal
	inbox  chan burst
}

// NewChannel returns a channel converting bursts with conv.  after are
// signals that must be set before each conversion.
func NewChannel(o Options, kind Kind, number int, conv Converter, after []*device.Signal, alarms chan<- alarm.Event, log *slog.Logger) *Channel {
	return &Channel{
		core:   newCore(o, conv.Primary(), alarms, log),
		kind:   kind,
		number: number,
		conv:   conv,
		after:  after,
		inbox:  make(chan burst, 1),
	}
}

// Number is the instrument channel number
func (c *Channel) Number() int { return c.number }

// Kind is the sensor kind
func (c *Channel) Kind() Kind { return c.kind }

// Deliver hands the channel its samples of a burst.  It never blocks; an
// unprocessed earlier burst is replaced.
func (c *Channel) Deliver(samples []float64, at time.Time) {
	b := burst{samples: samples, at: at}
	for {
		select {
		case c.inbox <- b:
			return
		default:
		}
		select {
		case <-c.inbox:
			c.Log.Warn("burst overrun, dropping unprocessed samples")
		default:
		}
	}
}

// Run implements device.Component
func (c *Channel) Run(ctx context.Context) error {
	return c.Loop(ctx, c.process)
}

func (c *Channel) process(ctx context.Context) device.Outcome {
	var b burst
	c.SetStatus(device.WaitingForInput, "")
	select {
	case b = <-c.inbox:
	case <-ctx.Done():
		return device.Quit()
	}
	c.SetStatus(device.Running, "")

	if len(c.after) > 0 {
		wctx, cancel := context.WithTimeout(ctx, DependencyTimeout)
		err := device.WaitAll(wctx, c.after...)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return device.Quit()
			}
			c.republish()
			return device.Faultf("waiting on dependency: %v", err)
		}
	}

	if len(b.samples) == 0 {
		c.republish()
		return device.Done()
	}
	vals, err := c.conv.Convert(b.samples)
	if err != nil {
		c.republish()
		return device.Faultf("converting burst: %v", err)
	}
	c.publish(vals, b.at)
	return device.Done()
}
