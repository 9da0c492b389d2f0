// Package processor implements the Processor service (C6 in spec.md):
// consumes the data_ready flag, runs the analysis kernel over every
// pending manifest entry, and appends enriched records to the results
// log before batch-updating the manifest.
package processor

import (
	"context"
	"log"
	"time"

	"phorest/internal/analysis"
	"phorest/internal/config"
	"phorest/internal/flagfile"
	"phorest/internal/manifest"
	"phorest/internal/resultslog"
	"phorest/internal/roigen"
	"phorest/internal/svcstatus"
)

// State is the Processor's state-machine position (spec.md §4.5).
type State string

const (
	StateIdle           State = "IDLE"
	StateWaitingForData State = "WAITING_FOR_DATA"
	StateProcessing     State = "PROCESSING"
)

// Processor drives the analysis cycle.
type Processor struct {
	cfg      *config.Config
	roiTable roigen.Table
	state    State
}

// New constructs a Processor against a fixed ROI table, loaded once at
// startup (the ROI table does not change mid-run; regenerating it is
// the operator's responsibility via cmd/roigen).
func New(cfg *config.Config, roiTable roigen.Table) *Processor {
	return &Processor{cfg: cfg, roiTable: roiTable, state: StateIdle}
}

// Run blocks until ctx is cancelled, waiting for data_ready on each
// iteration and running one PROCESSING cycle whenever it appears.
func (p *Processor) Run(ctx context.Context) error {
	pollInterval := time.Duration(p.cfg.Timing.PollInterval) * time.Second
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}

	for {
		p.state = StateWaitingForData
		select {
		case <-ctx.Done():
			p.state = StateIdle
			if err := svcstatus.Stopped(p.cfg.StatusPath(), "processor"); err != nil {
				log.Printf("[processor] failed to record clean shutdown: %v", err)
			}
			return nil
		default:
		}

		consumed, err := flagfile.ConsumeIfPresent(p.cfg.DataReadyFlagPath())
		if err != nil {
			log.Printf("[processor] failed to consume data_ready: %v", err)
		}
		if !consumed {
			flagfile.WaitForCreate(p.cfg.DataReadyFlagPath(), pollInterval)
			select {
			case <-ctx.Done():
				p.state = StateIdle
				if err := svcstatus.Stopped(p.cfg.StatusPath(), "processor"); err != nil {
					log.Printf("[processor] failed to record clean shutdown: %v", err)
				}
				return nil
			case <-time.After(0):
			}
			continue
		}

		p.state = StateProcessing
		if err := p.runCycle(); err != nil {
			log.Printf("[processor] cycle failed (retrying next cycle): %v", err)
		}
		p.state = StateIdle
		if err := svcstatus.Heartbeat(p.cfg.StatusPath(), "processor", "processor", p.cfg.Timing.ProcessorInterval, time.Now()); err != nil {
			log.Printf("[processor] failed to record heartbeat: %v", err)
		}
	}
}

// runCycle implements spec.md §4.5 PROCESSING steps 1-4.
func (p *Processor) runCycle() error {
	entries, err := manifest.Load(p.cfg.ManifestPath(), time.Now)
	if err != nil {
		return err
	}

	pendingIdx := manifest.IndicesWithStatus(entries, manifest.StatusPending)
	if len(pendingIdx) == 0 {
		return nil
	}

	var statuses []manifest.ProcessingStatus
	var errFlags []bool
	var errMsgs []string
	var timestamps []string

	for _, idx := range pendingIdx {
		entry := entries[idx]
		status, errFlag, errMsg := p.processEntry(entry)
		statuses = append(statuses, status)
		errFlags = append(errFlags, errFlag)
		errMsgs = append(errMsgs, errMsg)
		timestamps = append(timestamps, manifest.NewTimestampISO(time.Now()))
	}

	err = manifest.Update(p.cfg.ManifestPath(), pendingIdx, []manifest.FieldUpdate{
		{Field: "processing_status", Value: statuses},
		{Field: "processing_error", Value: errFlags},
		{Field: "processing_error_msg", Value: errMsgs},
		{Field: "processing_timestamp_iso", Value: timestamps},
	}, time.Now)
	if err != nil {
		return err
	}

	return flagfile.Touch(p.cfg.ResultsReadyFlagPath())
}

// processEntry runs the analysis kernel on one entry and appends its
// result to the results log, returning the new processing_status and
// any error to apply to the batched manifest update.
func (p *Processor) processEntry(entry manifest.Entry) (manifest.ProcessingStatus, bool, string) {
	if entry.CameraData == nil {
		return manifest.StatusFailed, true, "entry has no camera data"
	}

	opts := analysis.Options{
		Method:        p.cfg.DataAnalysis.Method,
		NumberSubROIs: p.cfg.DataAnalysis.NumberSubROIs,
	}
	results, err := analysis.ProcessImage(entry.CameraData.Filepath, p.roiTable, opts)
	if err != nil {
		log.Printf("[processor] analysis failed for %s: %v", entry.CameraData.Filepath, err)
		return manifest.StatusFailed, true, err.Error()
	}

	rec := resultslog.Record{
		EntryID:                manifest.EntryID(entry),
		EntryTimestampISO:      entry.EntryTimestampISO,
		ProcessingTimestampISO: manifest.NewTimestampISO(time.Now()),
		ImageAnalysis:          toAnyMaps(results),
		TemperatureReadings:    entry.TemperatureData,
	}
	if err := resultslog.Append(p.cfg.ResultsLogPath(), rec); err != nil {
		log.Printf("[processor] failed to append results for %s: %v", entry.CameraData.Filepath, err)
		return manifest.StatusFailed, true, err.Error()
	}

	return manifest.StatusProcessed, false, ""
}

func toAnyMaps(results []analysis.RowResult) []map[string]any {
	out := make([]map[string]any, len(results))
	for i, r := range results {
		out[i] = map[string]any(r)
	}
	return out
}
