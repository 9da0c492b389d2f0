// Package communicator implements the Communicator service (C7 in
// spec.md): dispatches processed manifest entries to a communication
// handler keyed by COMMUNICATION_METHOD, currently CSV_PLOT.
package communicator

import (
	"context"
	"errors"
	"log"
	"time"

	"phorest/internal/config"
	"phorest/internal/csvplot"
	"phorest/internal/flagfile"
	"phorest/internal/lockfile"
	"phorest/internal/manifest"
	"phorest/internal/resultslog"
	"phorest/internal/svcstatus"
)

// State is the Communicator's state-machine position (spec.md §4.6).
type State string

const (
	StateIdle              State = "IDLE"
	StateWaitingForResults State = "WAITING_FOR_RESULTS"
	StateCommunicating     State = "COMMUNICATING"
)

// ErrNotImplemented is returned by handlers not yet wired, matching
// spec.md §4.6's "OPC_UA reserved" note.
var ErrNotImplemented = errors.New("communicator: method not implemented")

// Communicator drives the dispatch cycle.
type Communicator struct {
	cfg   *config.Config
	state State
}

func New(cfg *config.Config) *Communicator {
	return &Communicator{cfg: cfg, state: StateIdle}
}

// Run blocks until ctx is cancelled. On every COMMUNICATOR_INTERVAL
// tick it waits up to the poll interval for results_ready, consumes the
// flag if present, and then runs one COMMUNICATING cycle whether or not
// the flag appeared: the flag does not gate the cycle, and runCycle
// itself returns early when nothing is un-transmitted.
func (c *Communicator) Run(ctx context.Context) error {
	floor := time.Duration(c.cfg.Timing.CommunicatorInterval) * time.Second
	pollInterval := time.Duration(c.cfg.Timing.PollInterval) * time.Second
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}

	ticker := time.NewTicker(floor)
	defer ticker.Stop()

	for {
		c.state = StateWaitingForResults
		select {
		case <-ctx.Done():
			c.state = StateIdle
			if err := svcstatus.Stopped(c.cfg.StatusPath(), "communicator"); err != nil {
				log.Printf("[communicator] failed to record clean shutdown: %v", err)
			}
			return nil
		case <-ticker.C:
		}

		flagfile.WaitForCreate(c.cfg.ResultsReadyFlagPath(), pollInterval)
		_, _ = flagfile.ConsumeIfPresent(c.cfg.ResultsReadyFlagPath())

		c.state = StateCommunicating
		if err := c.runCycle(); err != nil {
			log.Printf("[communicator] cycle failed (retrying next cycle): %v", err)
		}
		c.state = StateIdle

		if err := svcstatus.Heartbeat(c.cfg.StatusPath(), "communicator", "communicator", c.cfg.Timing.CommunicatorInterval, time.Now()); err != nil {
			log.Printf("[communicator] failed to record heartbeat: %v", err)
		}
	}
}

// runCycle implements spec.md §4.6 COMMUNICATING steps 1-6.
func (c *Communicator) runCycle() error {
	entries, err := manifest.Load(c.cfg.ManifestPath(), time.Now)
	if err != nil {
		return err
	}

	processedIdx := manifest.IndicesWithStatus(entries, manifest.StatusProcessed)
	var untransmitted []int
	for _, idx := range processedIdx {
		if !entries[idx].DataTransmitted {
			untransmitted = append(untransmitted, idx)
		}
	}
	if len(untransmitted) == 0 {
		// §9 open-question resolution: skip the whole cycle uniformly
		// rather than rewriting identical CSV/plot output.
		return nil
	}

	records, err := resultslog.ReadAll(c.cfg.ResultsLogPath())
	if err != nil {
		return err
	}
	// Build from the processed set's entry IDs so the handler always
	// sees the complete processed list (spec.md §4.6: "idempotent and
	// robust to lost output files"), not just the incremental subset.
	byEntryID := make(map[string]bool, len(processedIdx))
	for _, idx := range processedIdx {
		byEntryID[manifest.EntryID(entries[idx])] = true
	}
	var toCommunicate []resultslog.Record
	for _, rec := range records {
		if byEntryID[rec.EntryID] {
			toCommunicate = append(toCommunicate, rec)
		}
	}

	if err := c.dispatch(toCommunicate); err != nil {
		return err
	}

	transmitted := make([]bool, len(untransmitted))
	for i := range transmitted {
		transmitted[i] = true
	}
	return manifest.Update(c.cfg.ManifestPath(), untransmitted, []manifest.FieldUpdate{
		{Field: "data_transmitted", Value: transmitted},
	}, time.Now)
}

func (c *Communicator) dispatch(records []resultslog.Record) error {
	switch c.cfg.Communication.Method {
	case config.CommCSVPlot:
		if err := lockfile.WithLock(c.cfg.CSVPath(), func() error {
			return csvplot.WriteCSV(c.cfg.CSVPath(), records)
		}); err != nil {
			return err
		}
		return lockfile.WithLock(c.cfg.PlotPath(), func() error {
			return csvplot.WritePlot(c.cfg.PlotPath(), records, c.cfg.DataAnalysis.Method)
		})
	case config.CommOPCUA:
		return ErrNotImplemented
	default:
		return ErrNotImplemented
	}
}
