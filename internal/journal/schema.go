package journal

import (
	"database/sql"

	"codeberg.org/mutker/domwatch/internal/errors"
	"codeberg.org/mutker/domwatch/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS alerts (
	       id         INTEGER PRIMARY KEY AUTOINCREMENT,
	       timestamp  INTEGER NOT NULL CHECK (typeof(timestamp) = 'integer'),
	       uptime     INTEGER NOT NULL DEFAULT 0,
	       severity   TEXT    NOT NULL CHECK (severity IN ('DEBUG', 'INFO', 'WARNING', 'ERROR')),
	       interface  TEXT    NOT NULL DEFAULT '',
	       direction  TEXT    NOT NULL DEFAULT '',
	       message    TEXT    NOT NULL
	   );
	   CREATE INDEX IF NOT EXISTS alerts_timestamp ON alerts (timestamp);`

	insertAlertSQL = `
    INSERT INTO alerts (
        timestamp, uptime, severity, interface, direction, message
    ) VALUES (?, ?, ?, ?, ?, ?)`

	recentAlertsSQL = `
    SELECT id, timestamp, uptime, severity, interface, direction, message
    FROM alerts
    ORDER BY id DESC
    LIMIT ?`
)

// InitSchema creates the tables and records the current schema version.
func InitSchema(db *sql.DB) error {
	errFactory := errors.New()

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				logger.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, failure{Phase: "create_tables", Error: err.Error()})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, failure{Phase: "record_version", Error: err.Error()})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	logger.Info().
		Int("version", SchemaVersion).
		Msg("Journal schema initialized")

	return nil
}

// GetSchemaVersion returns the recorded schema version, 0 for a new database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, failure{Phase: "get_version", Error: err.Error()})
	}

	return version, nil
}

func TableExists(db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errors.New().WithData(ErrSchemaValidationFailed, failure{
			Phase: "check_table_exists:" + tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
