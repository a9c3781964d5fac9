package resultstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ecatlab/ecatbench/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store provides persistence for latency test results. Runs are created
// once at run start; frame and cycle rows are append-only observations
// gated by run existence. There is deliberately no update path for frames
// or cycles: they are immutable facts recorded during capture.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Run registry.
	CreateRun(ctx context.Context, run *Run) (uint, error)
	GetRun(ctx context.Context, name string) (*Run, error)
	DeleteRun(ctx context.Context, name string) error
	ListRuns(ctx context.Context) ([]Run, error)
	ListRunsByScenario(ctx context.Context, scenario string) ([]Run, error)
	FindRunsByNamePrefix(ctx context.Context, prefix string) ([]Run, error)

	// Frame log.
	AppendFrame(ctx context.Context, frame *Frame) (uint, error)
	AppendFrames(ctx context.Context, frames []*Frame) error
	QueryFrames(ctx context.Context, run string) (*FrameCursor, error)
	CountFrames(ctx context.Context, run string) (int64, error)

	// Cycle log.
	AppendCycle(ctx context.Context, cycle *Cycle) (uint, error)
	AppendCycles(ctx context.Context, cycles []*Cycle) error
	QueryCycles(ctx context.Context, run string) (*CycleCursor, error)
	CountCycles(ctx context.Context, run string) (int64, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new result Store backed by the configured database
// driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "resultstore"),
		cfg: cfg,
	}
}

// Start opens the database connection, runs migrations, and creates the
// pattern-matching index on the run name column.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger:         logger.Discard,
		TranslateError: true,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(sqliteDSN(s.cfg.SQLite.Path))
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening result database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Run{},
		&Frame{},
		&Cycle{},
	); err != nil {
		return fmt.Errorf("running result migrations: %w", err)
	}

	if err := s.createPatternIndex(ctx); err != nil {
		return fmt.Errorf("creating name pattern index: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).
		Info("Result database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// sqliteDSN appends pragmas needed for FK enforcement and concurrent
// writers unless the caller already supplies DSN parameters.
func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}

	return path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// createPatternIndex creates an index on runs.name usable for prefix/LIKE
// lookups, separate from the unique equality index that backs the foreign
// key joins. Postgres needs varchar_pattern_ops for LIKE to use an index
// under non-C collations.
func (s *store) createPatternIndex(ctx context.Context) error {
	var stmt string

	switch s.cfg.Driver {
	case "postgres":
		stmt = `CREATE INDEX IF NOT EXISTS idx_runs_name_pattern ` +
			`ON runs (name varchar_pattern_ops)`
	default:
		stmt = `CREATE INDEX IF NOT EXISTS idx_runs_name_pattern ` +
			`ON runs (name)`
	}

	return s.db.WithContext(ctx).Exec(stmt).Error
}

// --- Run registry ---

// CreateRun inserts a new run row. The run name must be globally unique;
// a duplicate name fails with ErrDuplicateRun rather than overwriting.
// The settings payload must be well-formed JSON (an empty payload is
// normalized to an empty object).
func (s *store) CreateRun(ctx context.Context, run *Run) (uint, error) {
	if run.Settings == "" {
		run.Settings = "{}"
	}

	if !json.Valid([]byte(run.Settings)) {
		return 0, fmt.Errorf("run %q: %w", run.Name, ErrInvalidSettings)
	}

	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		if isDuplicateKey(err) {
			return 0, fmt.Errorf("run %q: %w", run.Name, ErrDuplicateRun)
		}

		return 0, fmt.Errorf("creating run: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"run":      run.Name,
		"scenario": run.Scenario,
	}).Debug("Run created")

	return run.ID, nil
}

// GetRun returns the run with the given name.
func (s *store) GetRun(ctx context.Context, name string) (*Run, error) {
	var run Run
	if err := s.db.WithContext(ctx).
		Where("name = ?", name).
		First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("run %q: %w", name, ErrRunNotFound)
		}

		return nil, fmt.Errorf("getting run: %w", err)
	}

	return &run, nil
}

// DeleteRun removes the run row and every frame and cycle row referencing
// it, all-or-nothing. Fails with ErrRunNotFound if no such name exists.
func (s *store) DeleteRun(ctx context.Context, name string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run = ?", name).
			Delete(&Frame{}).Error; err != nil {
			return fmt.Errorf("deleting frames: %w", err)
		}

		if err := tx.Where("run = ?", name).
			Delete(&Cycle{}).Error; err != nil {
			return fmt.Errorf("deleting cycles: %w", err)
		}

		result := tx.Where("name = ?", name).Delete(&Run{})
		if result.Error != nil {
			return fmt.Errorf("deleting run: %w", result.Error)
		}

		if result.RowsAffected == 0 {
			return fmt.Errorf("run %q: %w", name, ErrRunNotFound)
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.log.WithField("run", name).Info("Run deleted")

	return nil
}

// ListRuns returns all runs ordered by start date, newest first.
func (s *store) ListRuns(ctx context.Context) ([]Run, error) {
	var runs []Run
	if err := s.db.WithContext(ctx).
		Order("date DESC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	return runs, nil
}

// ListRunsByScenario returns all runs sharing a scenario label.
func (s *store) ListRunsByScenario(
	ctx context.Context, scenario string,
) ([]Run, error) {
	var runs []Run
	if err := s.db.WithContext(ctx).
		Where("scenario = ?", scenario).
		Order("date DESC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs by scenario: %w", err)
	}

	return runs, nil
}

// FindRunsByNamePrefix returns all runs whose name starts with the given
// prefix, ordered by name. LIKE metacharacters in the prefix are escaped
// so they match literally.
func (s *store) FindRunsByNamePrefix(
	ctx context.Context, prefix string,
) ([]Run, error) {
	var runs []Run
	if err := s.db.WithContext(ctx).
		Where("name LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%").
		Order("name ASC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("finding runs by prefix: %w", err)
	}

	return runs, nil
}

// escapeLike escapes LIKE pattern metacharacters in s.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

	return r.Replace(s)
}

// --- Frame log ---

// AppendFrame persists one PDU observation. DeltaTimeNs is computed from
// the supplied timestamps; any caller-provided value is ignored. Fails
// with ErrInvalidTimestamp for negative timestamps and ErrUnknownRun when
// the referenced run does not exist.
func (s *store) AppendFrame(ctx context.Context, frame *Frame) (uint, error) {
	if err := validateFrame(frame); err != nil {
		return 0, err
	}

	frame.DeltaTimeNs = frame.RxTimeNs - frame.TxTimeNs

	if err := s.requireRun(ctx, s.db, frame.Run); err != nil {
		return 0, err
	}

	if err := s.db.WithContext(ctx).Create(frame).Error; err != nil {
		if isForeignKeyViolation(err) {
			return 0, fmt.Errorf("run %q: %w", frame.Run, ErrUnknownRun)
		}

		return 0, fmt.Errorf("appending frame: %w", err)
	}

	return frame.ID, nil
}

// AppendFrames persists a batch of PDU observations in one transaction.
// All rows are validated up front; either every row is inserted or none.
func (s *store) AppendFrames(ctx context.Context, frames []*Frame) error {
	if len(frames) == 0 {
		return nil
	}

	for _, frame := range frames {
		if err := validateFrame(frame); err != nil {
			return err
		}

		frame.DeltaTimeNs = frame.RxTimeNs - frame.TxTimeNs
	}

	const batchSize = 500

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.requireRun(ctx, tx, frames[0].Run); err != nil {
			return err
		}

		if err := tx.CreateInBatches(frames, batchSize).Error; err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("run %q: %w", frames[0].Run, ErrUnknownRun)
			}

			return fmt.Errorf("batch inserting frames: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"run":    frames[0].Run,
		"frames": len(frames),
	}).Debug("Frame batch appended")

	return nil
}

// QueryFrames returns a cursor over all frames for a run, ordered by
// packet number then PDU index for deterministic replay. Each call opens
// a fresh cursor.
func (s *store) QueryFrames(
	ctx context.Context, run string,
) (*FrameCursor, error) {
	rows, err := s.db.WithContext(ctx).
		Model(&Frame{}).
		Where("run = ?", run).
		Order(`packet_number ASC, "index" ASC, id ASC`).
		Rows()
	if err != nil {
		return nil, fmt.Errorf("querying frames: %w", err)
	}

	return &FrameCursor{db: s.db, rows: rows}, nil
}

// CountFrames returns the number of frame rows for a run.
func (s *store) CountFrames(
	ctx context.Context, run string,
) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&Frame{}).
		Where("run = ?", run).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting frames: %w", err)
	}

	return count, nil
}

func validateFrame(frame *Frame) error {
	if frame.TxTimeNs < 0 || frame.RxTimeNs < 0 {
		return fmt.Errorf(
			"frame %d/%d for run %q: %w",
			frame.PacketNumber, frame.Index, frame.Run, ErrInvalidTimestamp,
		)
	}

	return nil
}

// --- Cycle log ---

// AppendCycle persists one control-loop iteration. The cycle counter must
// be strictly greater than the last one appended for the run; downstream
// jitter analysis assumes monotonic sequencing.
func (s *store) AppendCycle(ctx context.Context, cycle *Cycle) (uint, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.requireRun(ctx, tx, cycle.Run); err != nil {
			return err
		}

		last, ok, err := lastCycle(tx, cycle.Run)
		if err != nil {
			return err
		}

		if ok && cycle.Cycle <= last {
			return fmt.Errorf(
				"run %q: cycle %d after %d: %w",
				cycle.Run, cycle.Cycle, last, ErrNonMonotonicCycle,
			)
		}

		if err := tx.Create(cycle).Error; err != nil {
			// The (run, cycle) unique index backs the monotonic check
			// against concurrent writers racing the same counter.
			if isDuplicateKey(err) {
				return fmt.Errorf(
					"run %q: cycle %d: %w",
					cycle.Run, cycle.Cycle, ErrNonMonotonicCycle,
				)
			}

			if isForeignKeyViolation(err) {
				return fmt.Errorf("run %q: %w", cycle.Run, ErrUnknownRun)
			}

			return fmt.Errorf("appending cycle: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return cycle.ID, nil
}

// AppendCycles persists a batch of control-loop iterations in one
// transaction. The batch must itself be strictly increasing and start
// above the last counter already stored for the run.
func (s *store) AppendCycles(ctx context.Context, cycles []*Cycle) error {
	if len(cycles) == 0 {
		return nil
	}

	for i := 1; i < len(cycles); i++ {
		if cycles[i].Cycle <= cycles[i-1].Cycle {
			return fmt.Errorf(
				"run %q: cycle %d after %d: %w",
				cycles[i].Run, cycles[i].Cycle, cycles[i-1].Cycle,
				ErrNonMonotonicCycle,
			)
		}
	}

	const batchSize = 500

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.requireRun(ctx, tx, cycles[0].Run); err != nil {
			return err
		}

		last, ok, err := lastCycle(tx, cycles[0].Run)
		if err != nil {
			return err
		}

		if ok && cycles[0].Cycle <= last {
			return fmt.Errorf(
				"run %q: cycle %d after %d: %w",
				cycles[0].Run, cycles[0].Cycle, last, ErrNonMonotonicCycle,
			)
		}

		if err := tx.CreateInBatches(cycles, batchSize).Error; err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf(
					"run %q: %w", cycles[0].Run, ErrNonMonotonicCycle,
				)
			}

			if isForeignKeyViolation(err) {
				return fmt.Errorf("run %q: %w", cycles[0].Run, ErrUnknownRun)
			}

			return fmt.Errorf("batch inserting cycles: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"run":    cycles[0].Run,
		"cycles": len(cycles),
	}).Debug("Cycle batch appended")

	return nil
}

// QueryCycles returns a cursor over all cycle rows for a run in cycle
// order. Each call opens a fresh cursor.
func (s *store) QueryCycles(
	ctx context.Context, run string,
) (*CycleCursor, error) {
	rows, err := s.db.WithContext(ctx).
		Model(&Cycle{}).
		Where("run = ?", run).
		Order("cycle ASC").
		Rows()
	if err != nil {
		return nil, fmt.Errorf("querying cycles: %w", err)
	}

	return &CycleCursor{db: s.db, rows: rows}, nil
}

// CountCycles returns the number of cycle rows for a run.
func (s *store) CountCycles(
	ctx context.Context, run string,
) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&Cycle{}).
		Where("run = ?", run).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting cycles: %w", err)
	}

	return count, nil
}

// lastCycle returns the highest cycle counter stored for a run, with ok
// reporting whether any cycle row exists.
func lastCycle(tx *gorm.DB, run string) (int64, bool, error) {
	var last Cycle

	err := tx.Where("run = ?", run).
		Order("cycle DESC").
		First(&last).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}

		return 0, false, fmt.Errorf("reading last cycle: %w", err)
	}

	return last.Cycle, true, nil
}

// requireRun verifies the referenced run exists. The foreign key still
// enforces integrity if a delete commits between this check and the
// insert; that race maps to ErrUnknownRun at the insert site.
func (s *store) requireRun(ctx context.Context, tx *gorm.DB, name string) error {
	var count int64
	if err := tx.WithContext(ctx).
		Model(&Run{}).
		Where("name = ?", name).
		Count(&count).Error; err != nil {
		return fmt.Errorf("checking run existence: %w", err)
	}

	if count == 0 {
		return fmt.Errorf("run %q: %w", name, ErrUnknownRun)
	}

	return nil
}

// --- Driver error mapping ---

// isDuplicateKey reports whether err is a unique constraint violation.
// GORM's error translation covers postgres; the sqlite driver is matched
// on the engine's message as a fallback.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := err.Error()

	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}

// isForeignKeyViolation reports whether err is a foreign key violation.
func isForeignKeyViolation(err error) bool {
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}

	msg := err.Error()

	return strings.Contains(msg, "FOREIGN KEY constraint failed") ||
		strings.Contains(msg, "violates foreign key constraint")
}
