// Package csvplot implements the CSV_PLOT communication handler of
// spec.md §4.6/§6: a flattened CSV of per-ROI analysis rows and a
// two-panel PNG plot (ROI metric vs time, temperature vs time), via
// gonum.org/v1/plot.
package csvplot

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"phorest/internal/config"
	"phorest/internal/resultslog"
)

// metricKey maps the configured analysis method to the fit parameter
// plotted over time, per spec.md §6 ("plot output").
func metricKey(method config.AnalysisMethod) string {
	switch method {
	case config.MethodCentre:
		return "centre"
	case config.MethodGaussian:
		return "mu"
	case config.MethodFano:
		return "resonance"
	default:
		return "max_intensity"
	}
}

// row is one flattened (entry, ROI) CSV row.
type row struct {
	timestamp   string
	roiLabel    string
	values      map[string]string
	temperature map[string]string
}

// BuildRows flattens each record's ROI analysis entries into per-ROI
// rows, per spec.md §6's CSV output shape. Prelude records (brightness/
// contrast, always ImageAnalysis[0]) are not emitted as CSV rows.
func BuildRows(records []resultslog.Record) []row {
	var rows []row
	for _, rec := range records {
		var temperature map[string]string
		if rec.TemperatureReadings != nil {
			temperature = map[string]string{}
			for name, v := range rec.TemperatureReadings.Data {
				temperature["temperature_"+name] = formatFloat(v)
			}
		}

		for i, roiRec := range rec.ImageAnalysis {
			if i == 0 {
				continue // prelude brightness/contrast record, not a CSV row
			}
			label, _ := roiRec["ROI-label"].(string)
			rows = append(rows, row{
				timestamp:   rec.ProcessingTimestampISO,
				roiLabel:    label,
				values:      flattenROIRecord(roiRec),
				temperature: temperature,
			})
		}
	}
	return rows
}

// flattenROIRecord collapses dict-valued statistics fields to their
// Mean, per spec.md §6 ("dict-valued fields collapse to their Mean").
func flattenROIRecord(rec map[string]any) map[string]string {
	out := map[string]string{}
	for k, v := range rec {
		switch val := v.(type) {
		case map[string]any:
			if mean, ok := val["Mean"]; ok {
				out[k] = formatAny(mean)
			}
		default:
			out[k] = formatAny(v)
		}
	}
	return out
}

func formatAny(v any) string {
	if f, ok := v.(float64); ok {
		return formatFloat(f)
	}
	return fmt.Sprintf("%v", v)
}

func formatFloat(f float64) string {
	return fmt.Sprintf("%g", f)
}

// WriteCSV writes rows to path atomically (write-to-temp-then-rename),
// one row per (entry, ROI), columns [timestamp, <analysis fields of
// the first row>, temperature_*] per spec.md §6.
func WriteCSV(path string, records []resultslog.Record) error {
	rows := BuildRows(records)

	valueCols := firstRowColumns(rows)
	tempCols := allTemperatureColumns(rows)

	header := append([]string{"timestamp"}, valueCols...)
	header = append(header, tempCols...)

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("csvplot: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("csvplot: write header: %w", err)
	}
	for _, r := range rows {
		record := make([]string, 0, len(header))
		record = append(record, r.timestamp)
		for _, col := range valueCols {
			record = append(record, r.values[col])
		}
		for _, col := range tempCols {
			record = append(record, r.temperature[col])
		}
		if err := w.Write(record); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("csvplot: write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("csvplot: flush: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("csvplot: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("csvplot: rename temp file over %s: %w", path, err)
	}
	return nil
}

func firstRowColumns(rows []row) []string {
	if len(rows) == 0 {
		return nil
	}
	cols := make([]string, 0, len(rows[0].values))
	for k := range rows[0].values {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

func allTemperatureColumns(rows []row) []string {
	set := map[string]struct{}{}
	for _, r := range rows {
		for k := range r.temperature {
			set[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(set))
	for k := range set {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// WritePlot renders the two-panel PNG report of spec.md §6: the
// method-specific metric over time (one line per ROI label) stacked
// above temperature over time (one line per sensor).
func WritePlot(path string, records []resultslog.Record, method config.AnalysisMethod) error {
	rows := BuildRows(records)
	key := metricKey(method)

	metricPlot := plot.New()
	metricPlot.Title.Text = fmt.Sprintf("%s over time", key)
	metricPlot.X.Label.Text = "time"
	metricPlot.Y.Label.Text = key

	byLabel := map[string]plotter.XYs{}
	var order []string
	for _, r := range rows {
		v, ok := r.values[key]
		if !ok {
			continue
		}
		x, err := timeAxisValue(r.timestamp)
		if err != nil {
			continue
		}
		y := parseFloatOrZero(v)
		if _, seen := byLabel[r.roiLabel]; !seen {
			order = append(order, r.roiLabel)
		}
		byLabel[r.roiLabel] = append(byLabel[r.roiLabel], plotter.XY{X: x, Y: y})
	}
	if err := addLines(metricPlot, order, byLabel); err != nil {
		return fmt.Errorf("csvplot: add metric lines: %w", err)
	}

	tempPlot := plot.New()
	tempPlot.Title.Text = "temperature over time"
	tempPlot.X.Label.Text = "time"
	tempPlot.Y.Label.Text = "degrees C"

	byTempSensor := map[string]plotter.XYs{}
	var tempOrder []string
	for _, r := range rows {
		for col, v := range r.temperature {
			x, err := timeAxisValue(r.timestamp)
			if err != nil {
				continue
			}
			y := parseFloatOrZero(v)
			if _, seen := byTempSensor[col]; !seen {
				tempOrder = append(tempOrder, col)
			}
			byTempSensor[col] = append(byTempSensor[col], plotter.XY{X: x, Y: y})
		}
	}
	if err := addLines(tempPlot, tempOrder, byTempSensor); err != nil {
		return fmt.Errorf("csvplot: add temperature lines: %w", err)
	}

	return renderStacked(path, metricPlot, tempPlot)
}

func addLines(p *plot.Plot, order []string, series map[string]plotter.XYs) error {
	var args []interface{}
	for _, label := range order {
		args = append(args, label, series[label])
	}
	if len(args) == 0 {
		return nil
	}
	return plotutil.AddLines(p, args...)
}

func timeAxisValue(iso string) (float64, error) {
	t, err := time.Parse(time.RFC3339Nano, iso)
	if err != nil {
		return 0, err
	}
	return float64(t.Unix()), nil
}

func parseFloatOrZero(s string) float64 {
	var f float64
	_, err := fmt.Sscanf(s, "%g", &f)
	if err != nil {
		return 0
	}
	return f
}

// renderStacked draws top above bottom into one PNG, written
// atomically (write-to-temp-then-rename), matching the rest of the
// pipeline's crash-safety discipline for shared output files.
func renderStacked(path string, top, bottom *plot.Plot) error {
	const width, height = 10 * vg.Inch, 8 * vg.Inch

	canvas := vgimg.New(width, height)
	dc := draw.New(canvas)

	topCanvas := draw.Canvas{
		Canvas: dc.Canvas,
		Rectangle: vg.Rectangle{
			Min: vg.Point{X: 0, Y: height / 2},
			Max: vg.Point{X: width, Y: height},
		},
	}
	bottomCanvas := draw.Canvas{
		Canvas: dc.Canvas,
		Rectangle: vg.Rectangle{
			Min: vg.Point{X: 0, Y: 0},
			Max: vg.Point{X: width, Y: height / 2},
		},
	}

	top.Draw(topCanvas)
	bottom.Draw(bottomCanvas)

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("csvplot: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	png := vgimg.PngCanvas{Canvas: canvas}
	if _, err := png.WriteTo(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("csvplot: encode png: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("csvplot: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("csvplot: rename temp file over %s: %w", path, err)
	}
	return nil
}
