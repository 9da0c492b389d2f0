// Command storagecheck is a pre-flight USB-storage health check: it
// verifies the configured usb_uuid device is detected, mounted at
// root_dir, and writable, exiting non-zero otherwise so a process
// supervisor can refuse to start the pipeline on bad storage.
// Supplements spec.md (grounded in original_source/launchers/
// run_storage_check.py and src/phorest_pipeline/scripts/check_storage.py).
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"phorest/internal/config"
)

type lsblkOutput struct {
	BlockDevices []lsblkDevice `json:"blockdevices"`
}

type lsblkDevice struct {
	Name     string        `json:"name"`
	UUID     string        `json:"uuid"`
	Children []lsblkDevice `json:"children"`
}

func main() {
	configDir := flag.String("config", "configs", "directory containing phorest.toml")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("[storagecheck] failed to load config: %v", err)
	}

	if cfg.Storage.USBUUID == "" {
		log.Fatal("[storagecheck] configuration 'Storage.usb_uuid' is not set")
	}

	if err := checkUSBMountAndPermissions(cfg.Paths.RootDir, cfg.Storage.USBUUID); err != nil {
		log.Fatalf("[storagecheck] USB health check FAILED: %v", err)
	}
	fmt.Println("USB health check PASSED")
}

func checkUSBMountAndPermissions(mountPoint, expectedUUID string) error {
	if err := checkUUIDDetected(expectedUUID); err != nil {
		return err
	}

	info, err := os.Stat(mountPoint)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("mount point %s does not exist or is not a directory", mountPoint)
	}

	if err := exec.Command("findmnt", "-n", "-o", "TARGET", mountPoint).Run(); err != nil {
		return fmt.Errorf("no filesystem appears to be mounted at %s: %w", mountPoint, err)
	}

	return checkReadWrite(mountPoint)
}

func checkUUIDDetected(expectedUUID string) error {
	out, err := exec.Command("lsblk", "-J", "-o", "NAME,UUID,MOUNTPOINT").Output()
	if err != nil {
		return fmt.Errorf("'lsblk' failed (is util-linux installed?): %w", err)
	}

	var parsed lsblkOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return fmt.Errorf("could not parse lsblk output: %w", err)
	}

	if !uuidPresent(parsed.BlockDevices, expectedUUID) {
		return fmt.Errorf("USB drive with UUID %q not detected by lsblk", expectedUUID)
	}
	return nil
}

func uuidPresent(devices []lsblkDevice, expectedUUID string) bool {
	for _, d := range devices {
		if d.UUID == expectedUUID {
			return true
		}
		if uuidPresent(d.Children, expectedUUID) {
			return true
		}
	}
	return false
}

func checkReadWrite(mountPoint string) error {
	testFile := filepath.Join(mountPoint, ".usb_health_check_temp")
	content := fmt.Sprintf("health check ran at %s\n", time.Now().Format("2006-01-02 15:04:05"))
	if err := os.WriteFile(testFile, []byte(content), 0o644); err != nil {
		return fmt.Errorf("cannot write to %s: %w", mountPoint, err)
	}
	if err := os.Remove(testFile); err != nil {
		return fmt.Errorf("cannot delete test file from %s: %w", mountPoint, err)
	}
	return nil
}
