// Package block implements the Block Device capability (C9): GPT label to
// Slot Identity derivation, ESP discovery by type GUID, and paired
// mount/unmount, backing the Slot Activator (pkg/activation). Uses
// golang.org/x/sys/unix directly for the mount(2)/umount(2) syscalls
// rather than shelling out to mount(8)/umount(8).
package block

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/shlex"
	"golang.org/x/sys/unix"

	"github.com/arithx/update-engine/pkg/log"
)

var blog = log.For(log.Block)

// ESPTypeGUID is the well-known GPT partition type GUID for the EFI System
// Partition.
const ESPTypeGUID = "c12a7328-f81f-11d2-ba4b-00a0c93ec93b"

// Slot is a symbolic A/B slot identity.
type Slot string

const (
	SlotA Slot = "A"
	SlotB Slot = "B"
)

// Peer returns the other slot.
func (s Slot) Peer() Slot {
	if s == SlotA {
		return SlotB
	}
	return SlotA
}

func (s Slot) String() string { return string(s) }

// SlotFromLabel derives a Slot Identity from a GPT partition label, per the
// ROOT-A/USR-A ⇒ A, ROOT-B/USR-B ⇒ B rule. Anything else is an error.
func SlotFromLabel(label string) (Slot, error) {
	switch strings.ToUpper(label) {
	case "ROOT-A", "USR-A":
		return SlotA, nil
	case "ROOT-B", "USR-B":
		return SlotB, nil
	}
	return "", fmt.Errorf("unrecognized partition label %q", label)
}

// Info describes one block device as reported by blkid.
type Info struct {
	Device    string
	UUID      string
	Label     string
	PartUUID  string
	PartType  string // GPT partition type GUID, lowercased
	FsType    string
}

// GetInfo runs blkid against device and parses its default
// `<device>: KEY="value" ...` output, including PARTTYPE so FindESP can
// recognize the ESP.
func GetInfo(device string) (Info, error) {
	cmd := exec.Command("/sbin/blkid", "-p", device)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return Info{}, fmt.Errorf("blkid %s: %w (%s)", device, err, out)
	}
	return parseBlkidOut(device, out)
}

func parseBlkidOut(device string, out []byte) (Info, error) {
	info := Info{Device: device}
	split := strings.SplitN(string(out), ":", 2)
	if len(split) != 2 {
		return info, fmt.Errorf("can't parse blkid output for %s: %q", device, out)
	}
	elements, err := shlex.Split(split[1])
	if err != nil {
		return info, fmt.Errorf("can't parse blkid output for %s: %w", device, err)
	}
	for _, e := range elements {
		kv := strings.SplitN(e, "=", 2)
		if len(kv) != 2 {
			blog.Logf("blkid %s: can't parse %q, skipping", device, e)
			continue
		}
		switch strings.ToUpper(kv[0]) {
		case "UUID":
			info.UUID = kv[1]
		case "TYPE":
			info.FsType = kv[1]
		case "LABEL", "PARTLABEL":
			info.Label = kv[1]
		case "PARTUUID":
			info.PartUUID = kv[1]
		case "PARTTYPE":
			info.PartType = strings.ToLower(kv[1])
		}
	}
	return info, nil
}

// blockDevices lists candidate whole-disk-or-partition device nodes by
// walking /sys/class/block rather than parsing /proc/partitions.
func blockDevices() ([]string, error) {
	entries, err := os.ReadDir("/sys/class/block")
	if err != nil {
		return nil, fmt.Errorf("listing /sys/class/block: %w", err)
	}
	var devs []string
	for _, e := range entries {
		devs = append(devs, filepath.Join("/dev", e.Name()))
	}
	return devs, nil
}

// FindESP scans block devices for the EFI System Partition type GUID and
// returns its device path. Returns a plain error if none is found; callers
// in pkg/activation map that to ESPNotFound.
func FindESP() (string, error) {
	devs, err := blockDevices()
	if err != nil {
		return "", err
	}
	for _, d := range devs {
		info, err := GetInfo(d)
		if err != nil {
			continue
		}
		if info.PartType == ESPTypeGUID {
			return d, nil
		}
	}
	return "", fmt.Errorf("no EFI System Partition found among %d block devices", len(devs))
}

// Mount represents an ESP mount acquired by MountESP. Release unmounts and
// removes the mountpoint only if this call was the one that mounted it, so
// an already-mounted ESP found by a previous run is left alone.
type Mount struct {
	Device     string
	Path       string
	ownsMount  bool
	ownsMkdir  bool
}

// MountESP ensures device is mounted somewhere, creating a mountpoint under
// dir and mounting it there if it isn't already mounted. The returned
// Mount's Release must be called on every exit path.
func MountESP(device, dir string) (*Mount, error) {
	if at, ok := findExistingMount(device); ok {
		return &Mount{Device: device, Path: at}, nil
	}
	m := &Mount{Device: device, Path: dir}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating ESP mountpoint %s: %w", dir, err)
		}
		m.ownsMkdir = true
	}
	if err := unix.Mount(device, dir, "vfat", 0, ""); err != nil {
		if m.ownsMkdir {
			os.Remove(dir)
		}
		return nil, fmt.Errorf("mounting %s at %s: %w", device, dir, err)
	}
	m.ownsMount = true
	return m, nil
}

// Release unmounts and removes the mountpoint this call created; it is a
// no-op for a Mount describing a pre-existing mount this package did not
// set up, matching the "recording whether teardown must happen on exit"
// contract.
func (m *Mount) Release() error {
	if !m.ownsMount {
		return nil
	}
	err := unix.Unmount(m.Path, 0)
	if err == nil && m.ownsMkdir {
		os.Remove(m.Path)
	}
	if err != nil {
		return fmt.Errorf("unmounting %s: %w", m.Path, err)
	}
	return nil
}

// findExistingMount scans /proc/mounts for device; used so MountESP never
// double-mounts an ESP another process (or a previous stage in the same
// run) already mounted.
func findExistingMount(device string) (string, bool) {
	data, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return "", false
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if fields[0] == device {
			return fields[1], true
		}
	}
	return "", false
}
