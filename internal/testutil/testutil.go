package testutil

import (
	"flag"
	"os"
	"strconv"
	"testing"
)

var RunLong = flag.Bool("long", false, "run long/heavy tests")

func RequireLong(t *testing.T) {
	t.Helper()
	if !*RunLong {
		t.Skip("skipping long test (use -long to enable)")
	}
}

// PostgresEnv is a database reachable from the test process.
type PostgresEnv struct {
	Host     string
	Port     uint16
	User     string
	Password string
	Database string
}

// RequirePostgres reads the database from the same variables the sequencer
// uses and skips the test when ESPRESSO_SEQUENCER_POSTGRES_HOST is unset.
func RequirePostgres(t *testing.T) PostgresEnv {
	t.Helper()
	host, ok := os.LookupEnv("ESPRESSO_SEQUENCER_POSTGRES_HOST")
	if !ok || host == "" {
		t.Skip("skipping postgres test (set ESPRESSO_SEQUENCER_POSTGRES_HOST to enable)")
	}

	env := PostgresEnv{
		Host:     host,
		User:     os.Getenv("ESPRESSO_SEQUENCER_POSTGRES_USER"),
		Password: os.Getenv("ESPRESSO_SEQUENCER_POSTGRES_PASSWORD"),
		Database: os.Getenv("ESPRESSO_SEQUENCER_POSTGRES_DATABASE"),
	}
	if p := os.Getenv("ESPRESSO_SEQUENCER_POSTGRES_PORT"); p != "" {
		port, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			t.Fatalf("invalid ESPRESSO_SEQUENCER_POSTGRES_PORT %q: %v", p, err)
		}
		env.Port = uint16(port)
	}
	return env
}
