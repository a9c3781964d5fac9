package sysinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/host"
	"github.com/sirupsen/logrus"
)

// Snapshot captures the kernel/NIC tuning state a run executed under.
// It becomes part of the run's schema-less settings blob, so fields can
// be added freely without migrations.
type Snapshot struct {
	Hostname      string `json:"hostname"`
	KernelVersion string `json:"kernel_version"`
	IsRTKernel    bool   `json:"is_rt_kernel"`
	TunedProfile  string `json:"tuned_adm_profile,omitempty"`
	Interface     string `json:"interface"`
	TxUsecs       int    `json:"ethtool_tx_usecs"`
	RxUsecs       int    `json:"ethtool_rx_usecs"`
}

// Collect probes the local machine. External tuning tools (tuned-adm,
// ethtool) are probed best-effort: a missing tool leaves its fields
// empty rather than failing the run.
func Collect(
	ctx context.Context,
	log logrus.FieldLogger,
	iface string,
) (*Snapshot, error) {
	log = log.WithField("component", "sysinfo")

	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading host info: %w", err)
	}

	snap := &Snapshot{
		Hostname:      info.Hostname,
		KernelVersion: info.KernelVersion,
		IsRTKernel:    isRTKernel(info.KernelVersion),
		Interface:     iface,
	}

	if out, err := runCommand(ctx, "tuned-adm", "active"); err != nil {
		log.WithError(err).Debug("tuned-adm not available")
	} else {
		snap.TunedProfile = parseTunedProfile(out)
	}

	if out, err := runCommand(ctx, "ethtool", "-c", iface); err != nil {
		log.WithError(err).Debug("ethtool not available")
	} else {
		snap.TxUsecs, snap.RxUsecs = parseEthtoolUsecs(out)
	}

	return snap, nil
}

// JSON renders the snapshot as a settings document.
func (s *Snapshot) JSON() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshaling snapshot: %w", err)
	}

	return string(data), nil
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return "", fmt.Errorf("running %s: %w", name, err)
	}

	return string(out), nil
}

// isRTKernel reports whether the kernel carries the PREEMPT_RT patches,
// recognizing both the Debian ("-rt") and Mint ("-realtime") suffixes.
func isRTKernel(version string) bool {
	return strings.Contains(version, "-rt") ||
		strings.Contains(version, "-realtime")
}

// parseTunedProfile extracts the profile name from `tuned-adm active`
// output, e.g. "Current active profile: realtime".
func parseTunedProfile(out string) string {
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return ""
	}

	return fields[len(fields)-1]
}

// parseEthtoolUsecs extracts tx-usecs and rx-usecs from `ethtool -c`
// output. Missing values stay zero.
func parseEthtoolUsecs(out string) (txUsecs, rxUsecs int) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(line, "tx-usecs:"):
			txUsecs = parseTrailingInt(line)
		case strings.HasPrefix(line, "rx-usecs:"):
			rxUsecs = parseTrailingInt(line)
		}
	}

	return txUsecs, rxUsecs
}

func parseTrailingInt(line string) int {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return 0
	}

	v, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil {
		return 0
	}

	return v
}
