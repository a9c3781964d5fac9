package sysinfo

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRTKernel(t *testing.T) {
	assert.True(t, isRTKernel("6.1.0-rt7-amd64"))
	assert.True(t, isRTKernel("5.15.0-1060-realtime"))
	assert.False(t, isRTKernel("6.1.0-amd64"))
	assert.False(t, isRTKernel(""))
}

func TestParseTunedProfile(t *testing.T) {
	assert.Equal(t, "realtime",
		parseTunedProfile("Current active profile: realtime\n"))
	assert.Equal(t, "network-latency",
		parseTunedProfile("Current active profile: network-latency"))
	assert.Empty(t, parseTunedProfile(""))
}

func TestParseEthtoolUsecs(t *testing.T) {
	out := `Coalesce parameters for enp3s0:
Adaptive RX: off  TX: off
stats-block-usecs: 0
rx-usecs: 3
rx-frames: 0
tx-usecs: 8
tx-frames: 0
`

	tx, rx := parseEthtoolUsecs(out)
	assert.Equal(t, 8, tx)
	assert.Equal(t, 3, rx)

	// Missing values stay zero.
	tx, rx = parseEthtoolUsecs("Coalesce parameters for eth0:\n")
	assert.Zero(t, tx)
	assert.Zero(t, rx)
}

func TestSnapshotJSON(t *testing.T) {
	snap := &Snapshot{
		Hostname:      "rt-host-01",
		KernelVersion: "6.1.0-rt7-amd64",
		IsRTKernel:    true,
		TunedProfile:  "realtime",
		Interface:     "enp3s0",
		TxUsecs:       8,
		RxUsecs:       3,
	}

	out, err := snap.JSON()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "rt-host-01", decoded["hostname"])
	assert.Equal(t, true, decoded["is_rt_kernel"])
	assert.EqualValues(t, 8, decoded["ethtool_tx_usecs"])
}
