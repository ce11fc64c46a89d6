package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_MigrateIsRepeatable(t *testing.T) {
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "nested", "results.db"), Profile: ProfileLedger})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrate())
	require.NoError(t, db.Migrate())
	assert.Equal(t, "results", db.Name())
	assert.NoError(t, db.HealthCheck(context.Background()))

	var n int
	err = db.Conn().QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table'").Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestBuildConnectionString(t *testing.T) {
	assert.Contains(t, buildConnectionString("/tmp/x.db", ProfileLedger), "/tmp/x.db?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)")
	assert.Contains(t, buildConnectionString("file::memory:?cache=shared", ProfileStandard), "cache=shared&_pragma=")
}

func TestWithTransaction(t *testing.T) {
	db, err := New(Config{Path: "file::memory:"})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate())

	insert := func(tx *sql.Tx, id string) error {
		_, err := tx.Exec(`INSERT INTO decisions (id, created_at, source_strategy, cash_weight, weights) VALUES (?, 0, 'bl', 1, x'')`, id)
		return err
	}

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if err := insert(tx, "a"); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		require.NoError(t, insert(tx, "b"))
		panic("boom")
	})
	assert.ErrorContains(t, err, "panic in transaction")

	require.NoError(t, WithTransaction(db.Conn(), func(tx *sql.Tx) error { return insert(tx, "c") }))

	var ids []string
	rows, err := db.Conn().Query("SELECT id FROM decisions ORDER BY id")
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var id string
		require.NoError(t, rows.Scan(&id))
		ids = append(ids, id)
	}
	assert.Equal(t, []string{"c"}, ids)
}
