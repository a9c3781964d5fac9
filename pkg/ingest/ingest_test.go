package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ecatlab/ecatbench/pkg/capture"
	"github.com/ecatlab/ecatbench/pkg/config"
	"github.com/ecatlab/ecatbench/pkg/resultstore"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMeta = `{
  "name": "2025-06-01-lrw",
  "date": "2025-06-01T12:00:00Z",
  "scenario": "1thr-2task",
  "hostname": "rt-host-01",
  "propagation_time_ns": 1420,
  "settings": {"cycle_time_us": 1000, "is_rt": true},
  "cycles": [
    {"cycle": 1, "processing_time_ns": 8000, "tick_wait_ns": 990000, "cycle_time_delta_ns": -120},
    {"cycle": 2, "processing_time_ns": 8100, "tick_wait_ns": 989000, "cycle_time_delta_ns": 80},
    {"cycle": 3, "processing_time_ns": 7900, "tick_wait_ns": 991000, "cycle_time_delta_ns": 10}
  ]
}`

// Three round trips plus one outbound datagram with no return frame.
const testExport = `1,0.000000000,0x0c,0x00
2,0.000013500,0x0c,0x00
3,0.001000000,0x0c,0x00
4,0.001014000,0x0c,0x00
5,0.002000000,0x0c,0x00
6,0.002012750,0x0c,0x00
7,0.003000000,0x0c,0x00
`

func setupIngester(t *testing.T, dumpsDir string) (*Ingester, resultstore.Store) {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	dbCfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{
			Path: filepath.Join(t.TempDir(), "test.db"),
		},
	}

	store := resultstore.NewStore(log, dbCfg)
	require.NoError(t, store.Start(context.Background()))

	t.Cleanup(func() {
		require.NoError(t, store.Stop())
	})

	ing := NewIngester(log, store, &config.IngestConfig{
		DumpsDir:    dumpsDir,
		Concurrency: 3,
	})

	return ing, store
}

func writeArtifacts(t *testing.T, dir, name, meta, export string) {
	t.Helper()

	require.NoError(t, os.WriteFile(
		filepath.Join(dir, name+".json"), []byte(meta), 0o644))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, name+".csv"), []byte(export), 0o644))
}

func TestIngestRunByName(t *testing.T) {
	dumps := t.TempDir()
	writeArtifacts(t, dumps, "2025-06-01-lrw", testMeta, testExport)

	ing, store := setupIngester(t, dumps)
	ctx := context.Background()

	summary, err := ing.IngestRunByName(ctx, "2025-06-01-lrw")
	require.NoError(t, err)

	assert.Equal(t, "2025-06-01-lrw", summary.Run)
	assert.Equal(t, 3, summary.Frames)
	assert.Equal(t, 3, summary.Cycles)
	assert.Equal(t, 1, summary.Unmatched)

	run, err := store.GetRun(ctx, "2025-06-01-lrw")
	require.NoError(t, err)
	assert.Equal(t, "rt-host-01", run.Hostname)
	assert.Equal(t, int64(1420), run.PropagationTimeNs)
	assert.JSONEq(t, `{"cycle_time_us":1000,"is_rt":true}`, run.Settings)

	frames, err := store.CountFrames(ctx, "2025-06-01-lrw")
	require.NoError(t, err)
	assert.Equal(t, int64(3), frames)

	// The store recomputes the round-trip delta from the timestamps.
	cursor, err := store.QueryFrames(ctx, "2025-06-01-lrw")
	require.NoError(t, err)

	defer cursor.Close()

	require.True(t, cursor.Next())
	assert.Equal(t, int64(13500), cursor.Frame().DeltaTimeNs)

	cycles, err := store.CountCycles(ctx, "2025-06-01-lrw")
	require.NoError(t, err)
	assert.Equal(t, int64(3), cycles)
}

func TestIngestRunDuplicate(t *testing.T) {
	dumps := t.TempDir()
	writeArtifacts(t, dumps, "run-a", testMeta, testExport)

	ing, store := setupIngester(t, dumps)
	ctx := context.Background()

	_, err := ing.IngestRunByName(ctx, "run-a")
	require.NoError(t, err)

	// The metadata name wins over the file name, so this collides.
	_, err = ing.IngestRunByName(ctx, "run-a")
	require.ErrorIs(t, err, resultstore.ErrDuplicateRun)

	// The first ingestion's rows are untouched.
	frames, err := store.CountFrames(ctx, "2025-06-01-lrw")
	require.NoError(t, err)
	assert.Equal(t, int64(3), frames)
}

func TestIngestRunRollbackOnBadCycles(t *testing.T) {
	dumps := t.TempDir()

	// Cycle counters go backwards, so cycle persistence must fail.
	badMeta := `{
	  "name": "run-bad",
	  "date": "2025-06-01T12:00:00Z",
	  "scenario": "1thr-2task",
	  "cycles": [
	    {"cycle": 2, "processing_time_ns": 8000},
	    {"cycle": 1, "processing_time_ns": 8100}
	  ]
	}`

	writeArtifacts(t, dumps, "run-bad", badMeta, testExport)

	ing, store := setupIngester(t, dumps)
	ctx := context.Background()

	_, err := ing.IngestRunByName(ctx, "run-bad")
	require.ErrorIs(t, err, resultstore.ErrNonMonotonicCycle)

	// The partially created run was rolled back.
	_, err = store.GetRun(ctx, "run-bad")
	require.ErrorIs(t, err, resultstore.ErrRunNotFound)
}

func TestIngestRunMissingArtifacts(t *testing.T) {
	dumps := t.TempDir()
	ing, _ := setupIngester(t, dumps)

	_, err := ing.IngestRunByName(context.Background(), "nope")
	require.Error(t, err)
}

func TestLoadRunArtifact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meta.json")

	require.NoError(t, os.WriteFile(path, []byte(testMeta), 0o644))

	artifact, err := LoadRunArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, "2025-06-01-lrw", artifact.Name)
	assert.Len(t, artifact.Cycles, 3)

	// A missing name is rejected.
	require.NoError(t, os.WriteFile(path, []byte(`{"scenario":"x"}`), 0o644))

	_, err = LoadRunArtifact(path)
	require.Error(t, err)

	// Malformed JSON is rejected.
	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o644))

	_, err = LoadRunArtifact(path)
	require.Error(t, err)
}

func makePDUs(n int) []capture.PDU {
	pdus := make([]capture.PDU, n)
	for i := range pdus {
		pdus[i].PacketNumber = int64(i + 1)
	}

	return pdus
}

func TestSplitPDUs(t *testing.T) {
	assert.Nil(t, splitPDUs(nil, 4))

	chunks := splitPDUs(makePDUs(10), 3)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 4)
	assert.Len(t, chunks[1], 4)
	assert.Len(t, chunks[2], 2)

	// More writers than rows collapses to one row per chunk.
	chunks = splitPDUs(makePDUs(2), 8)
	require.Len(t, chunks, 2)
}
