package sqlstore

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *Bridge {
	t.Helper()
	b, err := Open(Memory, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBridge_CreateInsertSelect(t *testing.T) {
	b := openMemory(t)

	_, err := b.Exec("CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, age INTEGER)", nil)
	require.NoError(t, err)

	res, err := b.Exec("INSERT INTO users (name, age) VALUES (?, ?)", []any{"alice", 30})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Changes)
	assert.EqualValues(t, 1, res.LastRowID)

	_, err = b.Exec("INSERT INTO users (name, age) VALUES (?, ?)", []any{"bob", 25})
	require.NoError(t, err)

	res, err = b.Exec("SELECT name, age FROM users ORDER BY age", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "age"}, res.Columns)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "bob", res.Rows[0][0])
	assert.EqualValues(t, 25, res.Rows[0][1])
}

func TestBridge_BlockedStatements(t *testing.T) {
	b := openMemory(t)
	for _, q := range []string{
		"ATTACH DATABASE '/tmp/x.db' AS x",
		"  detach x",
		"PRAGMA writable_schema = ON",
	} {
		_, err := b.Exec(q, nil)
		assert.Error(t, err, q)
	}
	_, err := b.Exec("PRAGMA table_info(sqlite_master)", nil)
	assert.NoError(t, err)
}

func TestBridge_ExecJSON(t *testing.T) {
	b := openMemory(t)

	_, err := b.ExecJSON("CREATE TABLE kv (k TEXT PRIMARY KEY, v INTEGER, meta TEXT)", "")
	require.NoError(t, err)

	out, err := b.ExecJSON("INSERT INTO kv (k, v, meta) VALUES (?, ?, ?)", `["hits", 3, {"a": 1}]`)
	require.NoError(t, err)
	var res Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.EqualValues(t, 1, res.Changes)

	out, err = b.ExecJSON("SELECT typeof(v) AS t, v, meta FROM kv WHERE k = ?", `["hits"]`)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "integer", res.Rows[0][0])
	assert.EqualValues(t, 3, res.Rows[0][1])
	assert.JSONEq(t, `{"a":1}`, res.Rows[0][2].(string))

	_, err = b.ExecJSON("SELECT 1", `{"not": "an array"}`)
	assert.Error(t, err)
	_, err = b.ExecJSON("SELECT * FROM missing_table", "[]")
	assert.Error(t, err)
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "app.sqlite3")
	b, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	_, err = b.Exec("CREATE TABLE t (x INTEGER)", nil)
	require.NoError(t, err)
	_, err = b.Exec("INSERT INTO t VALUES (?)", []any{int64(7)})
	require.NoError(t, err)
	require.NoError(t, b.Close())

	b, err = Open(path, zerolog.Nop())
	require.NoError(t, err)
	defer b.Close()
	res, err := b.Exec("SELECT x FROM t", nil)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.EqualValues(t, 7, res.Rows[0][0])
}
