package journal

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/domwatch/internal/errors"
	"codeberg.org/mutker/domwatch/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.DBPath = filepath.Join(t.TempDir(), "state", "alerts.db")
	return cfg
}

func alert(msg string) notify.Notification {
	return notify.Notification{
		Message:   msg,
		Severity:  notify.SeverityWarning,
		Uptime:    1450179191,
		Interface: "Ethernet1",
		Direction: "rx",
		Time:      time.Date(2015, 12, 15, 11, 33, 33, 0, time.UTC),
	}
}

func TestJournalStoresNotifications(t *testing.T) {
	j, err := Open(testConfig(t))
	require.NoError(t, err)
	defer j.Close()

	ctx := context.Background()
	require.NoError(t, j.Notify(ctx, alert("first")))
	require.NoError(t, j.Notify(ctx, alert("second")))

	entries, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "second", entries[0].Message)
	assert.Equal(t, "first", entries[1].Message)
	assert.Equal(t, notify.SeverityWarning, entries[0].Severity)
	assert.Equal(t, "Ethernet1", entries[0].Interface)
	assert.Equal(t, "rx", entries[0].Direction)
	assert.Equal(t, int64(1450179191), entries[0].Uptime)
	assert.True(t, entries[0].Time.Equal(time.Date(2015, 12, 15, 11, 33, 33, 0, time.UTC)))
}

func TestJournalBatchesUntilClose(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 10
	cfg.BatchTimeout = 0

	j, err := Open(cfg)
	require.NoError(t, err)

	require.NoError(t, j.Notify(context.Background(), alert("buffered")))
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM alerts").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestJournalPeriodicFlush(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 10
	cfg.BatchTimeout = 1

	j, err := Open(cfg)
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Notify(context.Background(), alert("later")))

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	defer db.Close()

	assert.Eventually(t, func() bool {
		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM alerts").Scan(&count); err != nil {
			return false
		}
		return count == 1
	}, 5*time.Second, 100*time.Millisecond)
}

func TestJournalCanceledContext(t *testing.T) {
	j, err := Open(testConfig(t))
	require.NoError(t, err)
	defer j.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = j.Notify(ctx, alert("dropped"))
	assert.True(t, errors.HasCode(err, ErrOperationTimeout))
}

func TestSchemaMismatchBacksUp(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755))

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE schema_versions (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL);
		INSERT INTO schema_versions VALUES (99, datetime('now'));
		CREATE TABLE alerts (legacy TEXT);`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	j, err := Open(cfg)
	require.NoError(t, err)
	defer j.Close()

	backups, err := filepath.Glob(filepath.Join(backupDir(cfg.DBPath), "alerts_v99_*.db"))
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	version, err := GetSchemaVersion(j.db)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)

	require.NoError(t, j.Notify(context.Background(), alert("after migration")))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		code   errors.ErrorCode
	}{
		{"disabled skips checks", func(c *Config) { c.DBPath = "" }, ""},
		{"enabled needs path", func(c *Config) { c.Enabled = true; c.DBPath = "" }, ErrInvalidDBPath},
		{"batch size", func(c *Config) { c.Enabled = true; c.BatchSize = 0 }, ErrInvalidConfig},
		{"batch timeout", func(c *Config) { c.Enabled = true; c.BatchTimeout = -1 }, ErrInvalidConfig},
		{"enabled defaults", func(c *Config) { c.Enabled = true }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.HasCode(err, tt.code))
		})
	}
}
