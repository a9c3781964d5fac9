package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ecatlab/ecatbench/pkg/capture"
	"github.com/ecatlab/ecatbench/pkg/config"
	"github.com/ecatlab/ecatbench/pkg/resultstore"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// RunArtifact is the metadata document the test-execution process writes
// next to each capture. Settings is passed through to the store verbatim.
type RunArtifact struct {
	Name              string          `json:"name"`
	Date              time.Time       `json:"date"`
	Scenario          string          `json:"scenario"`
	Hostname          string          `json:"hostname"`
	PropagationTimeNs int64           `json:"propagation_time_ns"`
	Settings          json.RawMessage `json:"settings"`
	Cycles            []CycleRecord   `json:"cycles"`
}

// CycleRecord is one control-loop iteration as recorded by the run.
type CycleRecord struct {
	Cycle            int64 `json:"cycle"`
	ProcessingTimeNs int64 `json:"processing_time_ns"`
	TickWaitNs       int64 `json:"tick_wait_ns"`
	CycleTimeDeltaNs int64 `json:"cycle_time_delta_ns"`
}

// Summary reports what one ingestion pass persisted.
type Summary struct {
	Run       string
	Frames    int
	Cycles    int
	Unmatched int
}

// Ingester loads a run's artifacts (metadata JSON plus capture export)
// and persists them: the run row first, then frame and cycle rows from
// concurrent writers.
type Ingester struct {
	log   logrus.FieldLogger
	store resultstore.Store
	cfg   *config.IngestConfig
}

// NewIngester creates a new Ingester.
func NewIngester(
	log logrus.FieldLogger,
	store resultstore.Store,
	cfg *config.IngestConfig,
) *Ingester {
	return &Ingester{
		log:   log.WithField("component", "ingest"),
		store: store,
		cfg:   cfg,
	}
}

// IngestRunByName resolves a run's artifact paths inside the configured
// dumps directory (<name>.json and <name>.csv) and ingests them.
func (i *Ingester) IngestRunByName(
	ctx context.Context, name string,
) (*Summary, error) {
	metaPath := filepath.Join(i.cfg.DumpsDir, name+".json")
	exportPath := filepath.Join(i.cfg.DumpsDir, name+".csv")

	return i.IngestRun(ctx, metaPath, exportPath)
}

// IngestRun ingests one run from explicit artifact paths. Re-ingesting a
// run that already exists fails with resultstore.ErrDuplicateRun and
// leaves the stored data untouched. If frame or cycle persistence fails
// after the run row was created, the partially ingested run is rolled
// back best-effort so a later retry starts clean.
func (i *Ingester) IngestRun(
	ctx context.Context, metaPath, exportPath string,
) (*Summary, error) {
	artifact, err := LoadRunArtifact(metaPath)
	if err != nil {
		return nil, err
	}

	observations, err := capture.ParseExportFile(exportPath)
	if err != nil {
		return nil, err
	}

	pdus, unmatched := capture.Pair(observations)

	if len(unmatched) > 0 {
		i.log.WithFields(logrus.Fields{
			"run":       artifact.Name,
			"unmatched": len(unmatched),
		}).Warn("Capture contains observations with no return frame")
	}

	run := &resultstore.Run{
		Name:              artifact.Name,
		Date:              artifact.Date,
		Scenario:          artifact.Scenario,
		Hostname:          artifact.Hostname,
		PropagationTimeNs: artifact.PropagationTimeNs,
		Settings:          string(artifact.Settings),
	}

	if _, err := i.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	if err := i.persist(ctx, artifact, pdus); err != nil {
		if delErr := i.store.DeleteRun(ctx, artifact.Name); delErr != nil {
			i.log.WithError(delErr).WithField("run", artifact.Name).
				Warn("Failed to roll back partially ingested run")
		}

		return nil, err
	}

	summary := &Summary{
		Run:       artifact.Name,
		Frames:    len(pdus),
		Cycles:    len(artifact.Cycles),
		Unmatched: len(unmatched),
	}

	i.log.WithFields(logrus.Fields{
		"run":    summary.Run,
		"frames": summary.Frames,
		"cycles": summary.Cycles,
	}).Info("Run ingested")

	return summary, nil
}

// persist writes frame and cycle rows concurrently. Frames are split
// across the configured number of writers; cycles stay on a single
// writer because their counters must arrive in order.
func (i *Ingester) persist(
	ctx context.Context,
	artifact *RunArtifact,
	pdus []capture.PDU,
) error {
	g, gCtx := errgroup.WithContext(ctx)

	frameWriters := i.cfg.Concurrency - 1
	if frameWriters < 1 {
		frameWriters = 1
	}

	for _, chunk := range splitPDUs(pdus, frameWriters) {
		frames := make([]*resultstore.Frame, 0, len(chunk))

		for _, pdu := range chunk {
			frames = append(frames, &resultstore.Frame{
				Run:          artifact.Name,
				PacketNumber: pdu.PacketNumber,
				Index:        pdu.Index,
				Command:      pdu.Command.String(),
				TxTimeNs:     pdu.TxTimeNs,
				RxTimeNs:     pdu.RxTimeNs,
			})
		}

		g.Go(func() error {
			return i.store.AppendFrames(gCtx, frames)
		})
	}

	g.Go(func() error {
		cycles := make([]*resultstore.Cycle, 0, len(artifact.Cycles))

		for _, c := range artifact.Cycles {
			cycles = append(cycles, &resultstore.Cycle{
				Run:              artifact.Name,
				Cycle:            c.Cycle,
				ProcessingTimeNs: c.ProcessingTimeNs,
				TickWaitNs:       c.TickWaitNs,
				CycleTimeDeltaNs: c.CycleTimeDeltaNs,
			})
		}

		return i.store.AppendCycles(gCtx, cycles)
	})

	return g.Wait()
}

// splitPDUs divides pdus into at most n contiguous chunks.
func splitPDUs(pdus []capture.PDU, n int) [][]capture.PDU {
	if len(pdus) == 0 {
		return nil
	}

	if n > len(pdus) {
		n = len(pdus)
	}

	chunks := make([][]capture.PDU, 0, n)
	size := (len(pdus) + n - 1) / n

	for start := 0; start < len(pdus); start += size {
		end := start + size
		if end > len(pdus) {
			end = len(pdus)
		}

		chunks = append(chunks, pdus[start:end])
	}

	return chunks
}

// LoadRunArtifact reads and validates a run metadata document.
func LoadRunArtifact(path string) (*RunArtifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run metadata: %w", err)
	}

	var artifact RunArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("parsing run metadata %s: %w", path, err)
	}

	if artifact.Name == "" {
		return nil, fmt.Errorf("run metadata %s: name is required", path)
	}

	return &artifact, nil
}
