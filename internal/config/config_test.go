package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romashka-btc/espresso-sequencer/internal/datasource/fs"
	"github.com/romashka-btc/espresso-sequencer/internal/datasource/sql"
)

func envMap(m map[string]string) LookupFunc { // A
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestBuilders( // A
	t *testing.T,
) {
	t.Parallel()

	o := From(HTTP{Port: 8080})
	assert.False(t, o.HasQueryModule())

	o = o.QueryFS(Query{}, fs.Options{Path: "/tmp/x"}).WithSubmit(Submit{})
	assert.True(t, o.HasQueryModule())
	assert.NotNil(t, o.Submit)
	assert.Nil(t, o.Status)
	assert.Equal(t, "/tmp/x", o.StorageFS.Path)

	o = o.QuerySQL(Query{}, sql.Options{}).WithStatus(Status{})
	assert.True(t, o.ConflictingStorage())
	assert.NotNil(t, o.Status)
}

func TestQueryWithoutStorageIsNotAQueryModule( // A
	t *testing.T,
) {
	t.Parallel()

	o := From(HTTP{})
	o.Query = &Query{}
	assert.False(t, o.HasQueryModule())
}

func TestParse( // A
	t *testing.T,
) {
	t.Parallel()

	o, err := Parse([]byte(`
http:
  port: 9000
modules:
  query: true
  status: true
storage:
  sql:
    driver: sqlite
    path: /tmp/q.db
  reset: true
`))
	require.NoError(t, err)
	assert.Equal(t, uint16(9000), o.HTTP.Port)
	assert.NotNil(t, o.Query)
	assert.NotNil(t, o.Status)
	assert.Nil(t, o.Submit)
	assert.Nil(t, o.StorageFS)
	require.NotNil(t, o.StorageSQL)
	assert.Equal(t, sql.DriverSQLite, o.StorageSQL.Driver)
	assert.True(t, o.ResetStore)
	assert.NoError(t, o.Validate())
}

func TestParseRejectsUnknownKeys( // A
	t *testing.T,
) {
	t.Parallel()

	_, err := Parse([]byte("http:\n  prot: 1\n"))
	assert.Error(t, err)
}

func TestLoadFile( // A
	t *testing.T,
) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  port: 1234\n"), 0o600))

	o, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint16(1234), o.HTTP.Port)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv( // A
	t *testing.T,
) {
	t.Parallel()

	base := From(HTTP{Port: 1}).QuerySQL(Query{}, sql.Options{Host: "db"})
	o, err := base.ApplyEnv(envMap(map[string]string{
		EnvAPIPort:          "8081",
		EnvPostgresHost:     "pg.internal",
		EnvPostgresPort:     "6543",
		EnvPostgresPassword: "secret",
		EnvStoragePath:      "/ignored",
	}))
	require.NoError(t, err)

	assert.Equal(t, uint16(8081), o.HTTP.Port)
	assert.Equal(t, "pg.internal", o.StorageSQL.Host)
	assert.Equal(t, uint16(6543), o.StorageSQL.Port)
	assert.Equal(t, "secret", o.StorageSQL.Password)
	assert.Nil(t, o.StorageFS, "env must not enable a storage backend")
	assert.Equal(t, "db", base.StorageSQL.Host, "ApplyEnv must not mutate its receiver")
}

func TestApplyEnvBadPort( // A
	t *testing.T,
) {
	t.Parallel()

	_, err := From(HTTP{}).ApplyEnv(envMap(map[string]string{EnvAPIPort: "70000"}))
	assert.Error(t, err)
}

func TestValidate( // A
	t *testing.T,
) {
	t.Parallel()

	assert.NoError(t, From(HTTP{}).Validate())

	err := From(HTTP{}).QueryFS(Query{}, fs.Options{}).Validate()
	assert.ErrorIs(t, err, ErrMissingStoragePath)

	err = From(HTTP{}).QuerySQL(Query{}, sql.Options{Driver: "mysql"}).Validate()
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}
