package rig

import "time"

// Default USB identity of the DAQ6510
const (
	KeithleyVID = 0x05e6
	DAQ6510PID  = 0x6510
)

// SimulatorArgs configure the simulated acquisition unit
type SimulatorArgs struct {
	// Low and High bound the random samples
	Low  float64 `mapstructure:"low"`
	High float64 `mapstructure:"high"`

	// SweepTime is how long one simulated sweep takes
	SweepTime time.Duration `mapstructure:"sweepTime"`
}

// DAQ6510Args configure a Keithley DAQ6510.  Addr is host:port for the LAN
// interface; USB selects the rear USB-TMC port instead.
type DAQ6510Args struct {
	Addr string `mapstructure:"addr"`
	USB  bool   `mapstructure:"usb"`
	VID  uint16 `mapstructure:"vid"`
	PID  uint16 `mapstructure:"pid"`
}

// DAQ34970AArgs configure an Agilent 34970A.  Addr is a serial port, or
// host:port of a serial to ethernet bridge when Serial is false.
type DAQ34970AArgs struct {
	Addr   string `mapstructure:"addr"`
	Serial bool   `mapstructure:"serial"`
}

// ChannelArgs are accepted by every physical sensor
type ChannelArgs struct {
	// Settling is the delay after the card switches to the channel
	Settling time.Duration `mapstructure:"settling"`
}

// DirectArgs configure voltage, resistance and temperature channels
type DirectArgs struct {
	ChannelArgs `mapstructure:",squash"`

	// Abs reports the magnitude of the reading
	Abs bool `mapstructure:"abs"`
}

// TransducerArgs configure a pressure transducer
type TransducerArgs struct {
	ChannelArgs `mapstructure:",squash"`

	SignalLow   float64 `mapstructure:"signalLow"`
	SignalHigh  float64 `mapstructure:"signalHigh"`
	ReadingLow  float64 `mapstructure:"readingLow"`
	ReadingHigh float64 `mapstructure:"readingHigh"`
	Scale       float64 `mapstructure:"scale"`
}

// QuadraticArgs are the coefficients of a resistance to temperature calibration
type QuadraticArgs struct {
	A      float64 `mapstructure:"a"`
	B      float64 `mapstructure:"b"`
	C      float64 `mapstructure:"c"`
	Offset float64 `mapstructure:"offset"`
}

// RTDArgs configure a four wire RTD
type RTDArgs struct {
	ChannelArgs   `mapstructure:",squash"`
	QuadraticArgs `mapstructure:",squash"`
}

// ShuntArgs configure a current shunt
type ShuntArgs struct {
	ChannelArgs `mapstructure:",squash"`

	// Resistance in ohms
	Resistance float64 `mapstructure:"resistance"`
}

// HeaterArgs configure a heater voltage channel
type HeaterArgs struct {
	ChannelArgs `mapstructure:",squash"`

	// Shunt names the shunt sensor in series with the heater
	Shunt string `mapstructure:"shunt"`

	// Calibration maps heater resistance to temperature, optional
	Calibration *QuadraticArgs `mapstructure:"calibration"`
}

// PowerPair names a heater and its shunt
type PowerPair struct {
	Heater string `mapstructure:"heater"`
	Shunt  string `mapstructure:"shunt"`
}

// CombinedPowerArgs configure the combined_power virtual sensor
type CombinedPowerArgs struct {
	Pairs []PowerPair `mapstructure:"pairs"`
}

// ManualInputArgs configure the manual_input virtual sensor
type ManualInputArgs struct {
	// Primary is the published quantity, V if empty
	Primary string `mapstructure:"primary"`
}

// EAArgs configure an EA PS 2384 power supply
type EAArgs struct {
	Addr              string  `mapstructure:"addr"`
	NominalVoltage    float64 `mapstructure:"nominalVoltage"`
	InverterThreshold float64 `mapstructure:"inverterThreshold"`

	// Inverter names an inverter device switched by the supply
	Inverter string `mapstructure:"inverter"`
}

// PumpArgs configure an HNP Mikrosysteme gear pump
type PumpArgs struct {
	Addr       string  `mapstructure:"addr"`
	RPMPerFlow float64 `mapstructure:"rpmPerFlow"`
}

// FunctionGeneratorArgs configure an HP 33120A driving an AC heater
type FunctionGeneratorArgs struct {
	Addr       string  `mapstructure:"addr"`
	Serial     bool    `mapstructure:"serial"`
	Multiplier float64 `mapstructure:"multiplier"`
	Frequency  float64 `mapstructure:"frequency"`
}

// SerialArgs configure the Arduino driven stepper valve and inverter
type SerialArgs struct {
	Addr string `mapstructure:"addr"`
}
