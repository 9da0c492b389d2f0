// Command roilisting prints the parsed ROI manifest in a
// human-readable table, for operator sanity-checking before a run.
// Supplements spec.md (grounded in original_source/launchers/
// check_roi_listing.py), not one of the named pipeline components.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"phorest/internal/collector"
	"phorest/internal/config"
)

func main() {
	configDir := flag.String("config", "configs", "directory containing phorest.toml")
	manifestPath := flag.String("manifest", "", "ROI manifest path (defaults to the configured roi_manifest_filename)")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("[roilisting] failed to load config: %v", err)
	}

	path := *manifestPath
	if path == "" {
		path = cfg.ROIManifestPath()
	}

	table, err := collector.LoadROITable(path)
	if err != nil {
		log.Fatalf("[roilisting] failed to load ROI manifest %s: %v", path, err)
	}

	labels := make([]string, 0, len(table.ROIs))
	for k := range table.ROIs {
		labels = append(labels, k)
	}
	sort.Strings(labels)

	fmt.Printf("ROI manifest: %s (image_angle=%.4f rad)\n", path, table.ImageAngle)
	fmt.Fprintf(os.Stdout, "%-30s %-8s %-14s %-14s\n", "label", "flip", "origin (y,x)", "size (h,w)")
	for _, label := range labels {
		roi := table.ROIs[label]
		fmt.Fprintf(os.Stdout, "%-30s %-8t %-14v %-14v\n", label, roi.Flip, roi.Coord, roi.Size)
	}
	if len(labels) == 0 {
		fmt.Println("(no ROIs in manifest)")
	}
}
