// Package device samples accelerator memory for admission decisions.
package device

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Device is one accelerator as seen at sampling time.
type Device struct {
	Index      int    `json:"index"`
	Name       string `json:"name"`
	TotalBytes uint64 `json:"total_bytes"`
	FreeBytes  uint64 `json:"free_bytes"`
	Available  bool   `json:"available"`
}

// Provider returns a live sample. Callers re-sample for every decision.
type Provider interface {
	Devices(ctx context.Context) ([]Device, error)
}

// Func adapts a function to Provider.
type Func func(ctx context.Context) ([]Device, error)

func (f Func) Devices(ctx context.Context) ([]Device, error) { return f(ctx) }

// Static reports fixed devices. Used when no probe is configured and in tests.
type Static []Device

func (s Static) Devices(context.Context) ([]Device, error) {
	out := make([]Device, len(s))
	copy(out, s)
	return out, nil
}

// None reports no devices; admission is skipped.
var None Provider = Static(nil)

// Summary aggregates a sample.
type Summary struct {
	TotalBytes uint64
	FreeBytes  uint64
	Devices    int
}

// Summarize returns the largest total and largest free memory among available
// devices. A model is placed on one device, so the best single device is what
// matters.
func Summarize(devs []Device) Summary {
	var s Summary
	for _, d := range devs {
		if !d.Available {
			continue
		}
		s.Devices++
		if d.TotalBytes > s.TotalBytes {
			s.TotalBytes = d.TotalBytes
		}
		if d.FreeBytes > s.FreeBytes {
			s.FreeBytes = d.FreeBytes
		}
	}
	return s
}

// NvidiaSMI probes NVIDIA GPUs through the nvidia-smi binary.
type NvidiaSMI struct {
	Bin     string
	Timeout time.Duration
}

const nvidiaQuery = "--query-gpu=index,name,memory.total,memory.free"

func (n NvidiaSMI) Devices(ctx context.Context) ([]Device, error) {
	bin := n.Bin
	if bin == "" {
		bin = "nvidia-smi"
	}
	timeout := n.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, bin, nvidiaQuery, "--format=csv,noheader,nounits").Output()
	if err != nil {
		return nil, fmt.Errorf("nvidia-smi: %w", err)
	}
	return ParseNvidiaSMI(out)
}

// ParseNvidiaSMI parses "index, name, total MiB, free MiB" CSV lines.
func ParseNvidiaSMI(b []byte) ([]Device, error) {
	var devs []Device
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < 4 {
			return nil, fmt.Errorf("nvidia-smi: unexpected line %q", line)
		}
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		idx, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("nvidia-smi: bad index %q", parts[0])
		}
		total, errT := strconv.ParseUint(parts[len(parts)-2], 10, 64)
		free, errF := strconv.ParseUint(parts[len(parts)-1], 10, 64)
		if errT != nil || errF != nil {
			// "[N/A]" on MIG or unsupported boards
			devs = append(devs, Device{Index: idx, Name: strings.Join(parts[1:len(parts)-2], ",")})
			continue
		}
		devs = append(devs, Device{
			Index:      idx,
			Name:       strings.Join(parts[1:len(parts)-2], ","),
			TotalBytes: total << 20,
			FreeBytes:  free << 20,
			Available:  true,
		})
	}
	return devs, sc.Err()
}
