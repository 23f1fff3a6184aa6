package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"

	"github.com/romashka-btc/espresso-sequencer/internal/datasource/fs"
	"github.com/romashka-btc/espresso-sequencer/internal/datasource/sql"
)

// Environment variables read by ApplyEnv.
const (
	EnvAPIPort          = "ESPRESSO_SEQUENCER_API_PORT"
	EnvStoragePath      = "ESPRESSO_SEQUENCER_STORAGE_PATH"
	EnvPostgresHost     = "ESPRESSO_SEQUENCER_POSTGRES_HOST"
	EnvPostgresPort     = "ESPRESSO_SEQUENCER_POSTGRES_PORT"
	EnvPostgresUser     = "ESPRESSO_SEQUENCER_POSTGRES_USER"
	EnvPostgresPassword = "ESPRESSO_SEQUENCER_POSTGRES_PASSWORD"
	EnvPostgresDatabase = "ESPRESSO_SEQUENCER_POSTGRES_DATABASE"
)

// File is the on-disk YAML layout.
//
//	http:
//	  port: 50000
//	modules:
//	  query: true
//	  submit: true
//	  status: true
//	storage:
//	  fs:
//	    path: /var/lib/sequencer
type File struct {
	HTTP struct {
		Port uint16 `yaml:"port"`
	} `yaml:"http"`
	Modules struct {
		Query  bool `yaml:"query"`
		Submit bool `yaml:"submit"`
		Status bool `yaml:"status"`
	} `yaml:"modules"`
	Storage struct {
		FS    *fs.Options  `yaml:"fs"`
		SQL   *sql.Options `yaml:"sql"`
		Reset bool         `yaml:"reset"`
	} `yaml:"storage"`
}

// Options converts the file layout into Options.
func (f File) Options() Options { // A
	o := From(HTTP{Port: f.HTTP.Port})
	if f.Modules.Query {
		o.Query = &Query{}
	}
	if f.Modules.Submit {
		o.Submit = &Submit{}
	}
	if f.Modules.Status {
		o.Status = &Status{}
	}
	o.StorageFS = f.Storage.FS
	o.StorageSQL = f.Storage.SQL
	o.ResetStore = f.Storage.Reset
	return o
}

// Load reads a YAML config file.
func Load(path string) (Options, error) { // A
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML config data.
func Parse(data []byte) (Options, error) { // A
	var f File
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return Options{}, fmt.Errorf("config: parse: %w", err)
	}
	return f.Options(), nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields from the environment. Storage variables only
// apply to the backend that is already configured.
func (o Options) ApplyEnv(lookup LookupFunc) (Options, error) { // A
	if lookup == nil {
		lookup = os.LookupEnv
	}

	if v, ok := lookup(EnvAPIPort); ok {
		port, err := parsePort(EnvAPIPort, v)
		if err != nil {
			return o, err
		}
		o.HTTP.Port = port
	}

	if o.StorageFS != nil {
		s := *o.StorageFS
		if v, ok := lookup(EnvStoragePath); ok {
			s.Path = v
		}
		o.StorageFS = &s
	}

	if o.StorageSQL != nil {
		s := *o.StorageSQL
		if v, ok := lookup(EnvPostgresHost); ok {
			s.Host = v
		}
		if v, ok := lookup(EnvPostgresPort); ok {
			port, err := parsePort(EnvPostgresPort, v)
			if err != nil {
				return o, err
			}
			s.Port = port
		}
		if v, ok := lookup(EnvPostgresUser); ok {
			s.User = v
		}
		if v, ok := lookup(EnvPostgresPassword); ok {
			s.Password = v
		}
		if v, ok := lookup(EnvPostgresDatabase); ok {
			s.Database = v
		}
		o.StorageSQL = &s
	}

	return o, nil
}

func parsePort(key, value string) (uint16, error) { // HC
	p, err := strconv.ParseUint(value, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not a port: %w", key, value, err)
	}
	return uint16(p), nil
}
