// Package health implements the Health Supervisor (C11 in spec.md):
// classifies every known service from the shared status file and PID
// liveness, then renders a one-row-per-service image report.
package health

import (
	"context"
	"fmt"
	"image/color"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"phorest/internal/config"
	"phorest/internal/svcstatus"
)

// Classification is one service's derived health state (spec.md §4.10).
type Classification string

const (
	ClassStopped        Classification = "Stopped"
	ClassCrashed        Classification = "Crashed"
	ClassNoHeartbeat    Classification = "No Heartbeat"
	ClassStaleHeartbeat Classification = "Hung / Stale Heartbeat"
	ClassRunningOK      Classification = "Running OK"
)

// Report is one service's row in the rendered report.
type Report struct {
	Service        string
	Classification Classification
	Detail         string
}

// Supervisor is the Health Supervisor service.
type Supervisor struct {
	cfg      *config.Config
	services []string
	logTail  map[string][]string
}

// New builds a Supervisor watching the given service names, the fixed
// roster of C5-C10 process names.
func New(cfg *config.Config, services []string) *Supervisor {
	return &Supervisor{cfg: cfg, services: services, logTail: map[string][]string{}}
}

// Run drives the cadence loop until ctx is cancelled. The health
// supervisor does not itself report to the status file — it is the
// reader of last resort, not a monitored service.
func (s *Supervisor) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.Timing.HealthCheckInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if err := s.runCycle(); err != nil {
			log.Printf("[health] cycle failed (retrying next cycle): %v", err)
		}
	}
}

func (s *Supervisor) runCycle() error {
	reports, err := s.Classify(time.Now())
	if err != nil {
		return err
	}
	return s.render(reports)
}

// Classify implements spec.md §4.10's per-service classification
// ladder against the shared status file.
func (s *Supervisor) Classify(now time.Time) ([]Report, error) {
	m, err := svcstatus.Load(s.cfg.StatusPath())
	if err != nil {
		return nil, fmt.Errorf("health: load status: %w", err)
	}

	reports := make([]Report, 0, len(s.services))
	for _, name := range s.services {
		st, known := m[name]
		if !known {
			reports = append(reports, Report{Service: name, Classification: ClassNoHeartbeat, Detail: "never reported"})
			continue
		}
		reports = append(reports, Report{Service: name, Classification: classifyOne(st, now), Detail: detailFor(st)})
	}
	return reports, nil
}

func classifyOne(st svcstatus.Status, now time.Time) Classification {
	if st.RunState == svcstatus.StateStopped {
		return ClassStopped
	}
	if st.PID != nil && !pidMatchesCommand(*st.PID, st.Command) {
		return ClassCrashed
	}
	if st.LastHeartbeat == nil {
		return ClassNoHeartbeat
	}
	last, err := time.Parse(time.RFC3339, *st.LastHeartbeat)
	if err != nil {
		return ClassNoHeartbeat
	}
	if st.ExpectedCadence > 0 {
		staleAfter := time.Duration(float64(st.ExpectedCadence) * 1.5 * float64(time.Second))
		if now.Sub(last) > staleAfter {
			return ClassStaleHeartbeat
		}
	}
	return ClassRunningOK
}

func detailFor(st svcstatus.Status) string {
	if st.LastHeartbeat == nil {
		return "no heartbeat recorded"
	}
	return "last heartbeat " + *st.LastHeartbeat
}

// pidMatchesCommand implements spec.md §4.10's "does PID exist and its
// command matches the expected service name" liveness check, using
// gopsutil for OS-native process introspection instead of shelling out
// to ps.
func pidMatchesCommand(pid int, expectedCommand string) bool {
	if expectedCommand == "" {
		exists, err := process.PidExists(int32(pid))
		return err == nil && exists
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	name, err := proc.Name()
	if err != nil {
		return false
	}
	return strings.Contains(name, expectedCommand) || strings.Contains(expectedCommand, name)
}

// render draws a one-row-per-service image: an indicator swatch and the
// status text. For non-green rows it appends the lines held in
// s.logTail for that service; nothing in this package fills s.logTail,
// so the rendered report carries no log lines.
func (s *Supervisor) render(reports []Report) error {
	sort.Slice(reports, func(i, j int) bool { return reports[i].Service < reports[j].Service })

	const width, height = 8 * vg.Inch, 6 * vg.Inch

	p := plot.New()
	p.Title.Text = "service health"
	p.Y.Label.Text = "service (sorted by name, first at top)"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, float64(len(reports))

	for i, r := range reports {
		y := float64(len(reports) - 1 - i)

		dot, err := plotter.NewScatter(plotter.XYs{{X: 0.05, Y: y + 0.5}})
		if err != nil {
			return fmt.Errorf("health: build indicator for %s: %w", r.Service, err)
		}
		dot.GlyphStyle.Color = colorFor(r.Classification)
		dot.GlyphStyle.Radius = vg.Points(6)
		p.Add(dot)

		text := fmt.Sprintf("%s: %s", r.Service, r.Classification)
		if r.Classification != ClassRunningOK {
			if tail := s.logTail[r.Service]; len(tail) > 0 {
				text += " (" + strings.Join(tail, "; ") + ")"
			}
		}
		p.Legend.Add(text, dot)
	}

	dir := filepath.Dir(s.cfg.HealthReportPath())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmpPath := filepath.Join(dir, filepath.Base(s.cfg.HealthReportPath())+".tmp")
	if err := p.Save(width, height, tmpPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("health: save png: %w", err)
	}
	if err := os.Rename(tmpPath, s.cfg.HealthReportPath()); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("health: rename into place: %w", err)
	}
	return nil
}

func colorFor(c Classification) color.Color {
	switch c {
	case ClassRunningOK:
		return color.RGBA{G: 180, A: 255}
	case ClassStaleHeartbeat, ClassNoHeartbeat:
		return color.RGBA{R: 230, G: 160, A: 255}
	default:
		return color.RGBA{R: 200, A: 255}
	}
}
