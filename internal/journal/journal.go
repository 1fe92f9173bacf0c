// Package journal persists delivered notifications in SQLite so alerts
// survive a restart of the daemon or a lost trap.
package journal

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/domwatch/internal/errors"
	"codeberg.org/mutker/domwatch/internal/logger"
	"codeberg.org/mutker/domwatch/internal/notify"
	_ "github.com/mattn/go-sqlite3"
)

// Entry is one stored notification.
type Entry struct {
	ID        int64
	Time      time.Time
	Uptime    int64
	Severity  notify.Severity
	Interface string
	Direction string
	Message   string
}

// Journal is a notify.Notifier that batches entries into SQLite.
type Journal struct {
	db            *sql.DB
	cfg           Config
	mu            sync.Mutex
	buffer        []Entry
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
	closeOnce     sync.Once
}

var _ notify.Notifier = (*Journal)(nil)

// Open creates the database directory and schema as needed.
func Open(cfg Config) (*Journal, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, failure{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, failure{Phase: "open_database", Error: err.Error()})
	}

	if err := ValidateAndUpdateSchema(db, cfg.DBPath); err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	logger.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Int("batch_timeout", cfg.BatchTimeout).
		Msg("Alert journal opened")

	j := &Journal{
		db:            db,
		cfg:           cfg,
		buffer:        make([]Entry, 0, cfg.BatchSize),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}

	if cfg.BatchSize > 1 && cfg.BatchTimeout > 0 {
		j.flushTicker = time.NewTicker(time.Duration(cfg.BatchTimeout) * time.Second)
		go j.flusher()
	} else {
		close(j.flushDoneChan)
	}

	return j, nil
}

// Notify implements notify.Notifier.
func (j *Journal) Notify(ctx context.Context, n notify.Notification) error {
	errFactory := errors.New()

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
	}

	ts := n.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.buffer = append(j.buffer, Entry{
		Time:      ts,
		Uptime:    n.Uptime,
		Severity:  n.Severity,
		Interface: n.Interface,
		Direction: n.Direction,
		Message:   n.Message,
	})

	if len(j.buffer) >= j.cfg.BatchSize {
		return j.flush()
	}

	return nil
}

func (j *Journal) Args() []string {
	return []string{"sqlite3", j.cfg.DBPath}
}

// Recent returns up to limit entries, newest first. Buffered entries are
// flushed first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	errFactory := errors.New()

	j.mu.Lock()
	err := j.flush()
	j.mu.Unlock()
	if err != nil {
		return nil, err
	}

	rows, err := j.db.QueryContext(ctx, recentAlertsSQL, limit)
	if err != nil {
		return nil, errFactory.Wrap(ErrQueryFailed, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			unix     int64
			severity string
		)
		if err := rows.Scan(&e.ID, &unix, &e.Uptime, &severity, &e.Interface, &e.Direction, &e.Message); err != nil {
			return nil, errFactory.Wrap(ErrQueryFailed, err)
		}
		e.Time = time.Unix(unix, 0)
		e.Severity, _ = notify.ParseSeverity(severity)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrQueryFailed, err)
	}

	return entries, nil
}

// Close flushes buffered entries and closes the database. It is safe to
// call more than once.
func (j *Journal) Close() error {
	var err error
	j.closeOnce.Do(func() {
		err = j.close()
	})
	return err
}

func (j *Journal) close() error {
	errFactory := errors.New()

	close(j.shutdownChan)
	if j.flushTicker != nil {
		j.flushTicker.Stop()
	}
	<-j.flushDoneChan

	j.mu.Lock()
	flushErr := j.flush()
	j.mu.Unlock()
	if flushErr != nil {
		logger.Warn().Err(flushErr).Int("dropped", len(j.buffer)).Msg("Failed to flush journal on close")
	}

	if _, err := j.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errFactory.WithData(ErrStorageClose, failure{Phase: "checkpoint_wal", Error: err.Error()})
	}

	if err := j.db.Close(); err != nil {
		return errFactory.WithData(ErrStorageClose, failure{Phase: "close_database", Error: err.Error()})
	}

	logger.Debug().Msg("Alert journal closed")

	return nil
}

func (j *Journal) flusher() {
	defer close(j.flushDoneChan)

	for {
		select {
		case <-j.flushTicker.C:
			j.mu.Lock()
			if err := j.flush(); err != nil {
				logger.Warn().Err(err).Msg("Periodic journal flush failed")
			}
			j.mu.Unlock()
		case <-j.shutdownChan:
			return
		}
	}
}

// flush writes the buffer in one transaction. Callers hold j.mu.
func (j *Journal) flush() error {
	if len(j.buffer) == 0 {
		return nil
	}

	errFactory := errors.New()

	tx, err := j.db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.Prepare(insertAlertSQL)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error().Err(rbErr).Msg("Failed to roll back transaction")
		}
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, e := range j.buffer {
		if _, err := stmt.Exec(
			e.Time.Unix(),
			e.Uptime,
			e.Severity.String(),
			e.Interface,
			e.Direction,
			e.Message,
		); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logger.Error().Err(rbErr).Msg("Failed to roll back transaction")
			}
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	logger.Debug().Int("records", len(j.buffer)).Msg("Flushed alerts to journal")
	j.buffer = j.buffer[:0]

	return nil
}
