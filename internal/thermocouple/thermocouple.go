// Package thermocouple defines the temperature-sensor driver interface
// (C5 in spec.md) and its dummy implementation. As with camera, real
// thermocouple hardware is out of scope per spec.md §9 — only the
// interface and a synthetic driver live here.
package thermocouple

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Driver is the temperature-sensor abstraction the Collector depends
// on. One Read call returns one reading per configured sensor.
type Driver interface {
	Read(ctx context.Context) (map[string]float64, error)
	Close() error
}

// DummyDriver returns a fixed reading per configured sensor, perturbed
// by a small deterministic oscillation so repeated reads are not
// byte-identical (useful for exercising the Communicator's plot path
// in tests without real hardware).
type DummyDriver struct {
	// SensorNames are the logical sensor names from [Temperature]
	// thermocouple_sensors; Read reports one value for each.
	SensorNames []string
	Baseline    float64

	start time.Time
	reads int
}

// NewDummyDriver returns a driver reporting every name in sensorNames
// near baselineC degrees, oscillating slightly on every call.
func NewDummyDriver(sensorNames []string, baselineC float64) *DummyDriver {
	return &DummyDriver{SensorNames: sensorNames, Baseline: baselineC, start: time.Now()}
}

func (d *DummyDriver) Read(ctx context.Context) (map[string]float64, error) {
	if len(d.SensorNames) == 0 {
		return nil, fmt.Errorf("thermocouple: dummy driver has no configured sensors")
	}
	d.reads++
	out := make(map[string]float64, len(d.SensorNames))
	for i, name := range d.SensorNames {
		offset := 0.25 * math.Sin(float64(d.reads)+float64(i))
		out[name] = d.Baseline + offset
	}
	return out, nil
}

func (d *DummyDriver) Close() error { return nil }
