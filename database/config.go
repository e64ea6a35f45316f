/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/tomoncle/txrepo/utils"
	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

// Pool defaults.
const (
	DefaultPoolMinSize          = 5
	DefaultPoolMaxSize          = 20
	DefaultPoolAcquireIncrement = 5
	DefaultPoolTimeoutSeconds   = 600
)

// SchemaMode selects what Build does with the described entity tables.
type SchemaMode string

const (
	// SchemaNone leaves the schema untouched.
	SchemaNone SchemaMode = "none"
	// SchemaCreate creates missing entity tables.
	SchemaCreate SchemaMode = "create"
)

// PoolConfig tunes the connection pool. Zero fields take the defaults.
type PoolConfig struct {
	MinSize          int `yaml:"min_size" json:"min_size"`
	MaxSize          int `yaml:"max_size" json:"max_size"`
	AcquireIncrement int `yaml:"acquire_increment" json:"acquire_increment"`
	TimeoutSeconds   int `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// DefaultPoolConfig returns {5, 20, 5, 600}.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MinSize:          DefaultPoolMinSize,
		MaxSize:          DefaultPoolMaxSize,
		AcquireIncrement: DefaultPoolAcquireIncrement,
		TimeoutSeconds:   DefaultPoolTimeoutSeconds,
	}
}

// AcquireTimeout is the longest a caller waits for a pooled connection.
func (p PoolConfig) AcquireTimeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

func (p PoolConfig) normalize() (PoolConfig, error) {
	checks := []struct {
		field string
		val   *int
		def   int
	}{
		{"pool.min_size", &p.MinSize, DefaultPoolMinSize},
		{"pool.max_size", &p.MaxSize, DefaultPoolMaxSize},
		{"pool.acquire_increment", &p.AcquireIncrement, DefaultPoolAcquireIncrement},
		{"pool.timeout_seconds", &p.TimeoutSeconds, DefaultPoolTimeoutSeconds},
	}
	for _, c := range checks {
		if *c.val < 0 {
			return p, NewConfigurationError(c.field, fmt.Sprintf("must not be negative, got %d", *c.val))
		}
		if *c.val == 0 {
			*c.val = c.def
		}
	}
	if p.MinSize > p.MaxSize {
		return p, NewConfigurationError("pool.min_size",
			fmt.Sprintf("min size %d exceeds max size %d", p.MinSize, p.MaxSize))
	}
	return p, nil
}

// Config is the connection configuration consumed by Build.
type Config struct {
	Driver   string     `yaml:"driver" json:"driver"` // postgres, mysql, sqlite
	URL      string     `yaml:"url" json:"url"`
	Username string     `yaml:"username" json:"username"`
	Password string     `yaml:"password" json:"password"`
	Dialect  string     `yaml:"dialect" json:"dialect"`
	Pool     PoolConfig `yaml:"pool" json:"pool"`

	SchemaMode     SchemaMode    `yaml:"schema_mode" json:"schema_mode"`
	EnableQueryLog bool          `yaml:"enable_query_log" json:"enable_query_log"`
	SlowQueryTime  time.Duration `yaml:"slow_query_time" json:"slow_query_time"`
	ConnectRetries int           `yaml:"connect_retries" json:"connect_retries"`
}

// Normalize validates c and returns a copy with aliases resolved and
// defaults applied. Failures are *ConfigurationError.
func (c *Config) Normalize() (Config, error) {
	if c == nil {
		return Config{}, NewConfigurationError("", "configuration cannot be empty")
	}
	out := *c

	driver, ok := canonicalEngine(out.Driver)
	if strings.TrimSpace(out.Driver) == "" {
		return out, NewConfigurationError("driver", "driver is required")
	}
	if !ok {
		return out, NewConfigurationError("driver",
			fmt.Sprintf("unsupported driver %q, supported: %s, %s, %s", out.Driver, DriverPostgres, DriverMySQL, DriverSQLite))
	}
	out.Driver = driver

	if strings.TrimSpace(out.URL) == "" {
		return out, NewConfigurationError("url", "connection url is required")
	}

	if out.Dialect == "" {
		out.Dialect = driver
	} else {
		dialect, ok := canonicalEngine(out.Dialect)
		if !ok {
			return out, NewConfigurationError("dialect", fmt.Sprintf("unsupported dialect %q", out.Dialect))
		}
		if dialect != driver {
			return out, NewConfigurationError("dialect",
				fmt.Sprintf("dialect %q does not match driver %q", out.Dialect, out.Driver))
		}
		out.Dialect = dialect
	}

	pool, err := out.Pool.normalize()
	if err != nil {
		return out, err
	}
	out.Pool = pool

	switch out.SchemaMode {
	case "":
		out.SchemaMode = SchemaNone
	case SchemaNone, SchemaCreate:
	default:
		return out, NewConfigurationError("schema_mode", fmt.Sprintf("unknown schema mode %q", out.SchemaMode))
	}
	if out.ConnectRetries < 0 {
		return out, NewConfigurationError("connect_retries", "must not be negative")
	}
	return out, nil
}

// DSN returns the driver data source name with credentials merged in.
func (c *Config) DSN() (string, error) {
	switch c.Driver {
	case DriverPostgres:
		return c.postgresDSN()
	case DriverMySQL:
		return c.mysqlDSN()
	case DriverSQLite:
		return strings.TrimPrefix(c.URL, "sqlite://"), nil
	default:
		return "", NewConfigurationError("driver", fmt.Sprintf("unsupported driver %q", c.Driver))
	}
}

// sharedMemoryDSN rewrites a private in-memory SQLite DSN into a named
// shared-cache one so every pooled connection sees the same database.
// Other DSNs are returned unchanged with false.
func sharedMemoryDSN(dsn, name string) (string, bool) {
	base, params, _ := strings.Cut(dsn, "?")
	switch base {
	case ":memory:", "file::memory:":
	default:
		if !strings.Contains(params, "mode=memory") || strings.Contains(params, "cache=shared") {
			return dsn, false
		}
	}
	out := "file:" + name + "?mode=memory&cache=shared"
	for _, p := range strings.Split(params, "&") {
		switch {
		case p == "", p == "mode=memory", strings.HasPrefix(p, "cache="):
		default:
			out += "&" + p
		}
	}
	return out, true
}

func (c *Config) postgresDSN() (string, error) {
	if c.Username == "" {
		return c.URL, nil
	}
	if strings.HasPrefix(c.URL, "postgres://") || strings.HasPrefix(c.URL, "postgresql://") {
		u, err := url.Parse(c.URL)
		if err != nil {
			return "", &ConfigurationError{Field: "url", Message: "malformed postgres url", Cause: err}
		}
		u.User = url.UserPassword(c.Username, c.Password)
		return u.String(), nil
	}
	// key=value form
	return fmt.Sprintf("%s user=%s password=%s", c.URL, quoteConnValue(c.Username), quoteConnValue(c.Password)), nil
}

func (c *Config) mysqlDSN() (string, error) {
	cfg, err := mysql.ParseDSN(c.URL)
	if err != nil {
		return "", &ConfigurationError{Field: "url", Message: "malformed mysql dsn", Cause: err}
	}
	if c.Username != "" {
		cfg.User = c.Username
		cfg.Passwd = c.Password
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

func quoteConnValue(s string) string {
	if s == "" {
		return "''"
	}
	if strings.ContainsAny(s, ` '\`) {
		s = strings.ReplaceAll(s, `\`, `\\`)
		s = strings.ReplaceAll(s, `'`, `\'`)
		return "'" + s + "'"
	}
	return s
}

func canonicalEngine(name string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pg":
		return DriverPostgres, true
	case "mysql", "mariadb":
		return DriverMySQL, true
	case "sqlite", "sqlite3":
		return DriverSQLite, true
	default:
		return "", false
	}
}

// LoadConfig reads a YAML configuration file and applies environment
// overrides on top of it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Field: "path", Message: "failed to read config file", Cause: err}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigurationError{Field: "path", Message: "failed to parse config file", Cause: err}
	}
	OverrideFromEnv(&cfg)
	return &cfg, nil
}

// OverrideFromEnv overrides configuration values from DB_* environment variables.
func OverrideFromEnv(cfg *Config) {
	cfg.Driver = utils.EnvDefaultString("DB_DRIVER", cfg.Driver)
	cfg.URL = utils.EnvDefaultString("DB_URL", cfg.URL)
	cfg.Username = utils.EnvDefaultString("DB_USERNAME", cfg.Username)
	cfg.Password = utils.EnvDefaultString("DB_PASSWORD", cfg.Password)
	cfg.Dialect = utils.EnvDefaultString("DB_DIALECT", cfg.Dialect)

	// Connection pool config
	cfg.Pool.MinSize = utils.EnvDefaultInt("DB_POOL_MIN_SIZE", cfg.Pool.MinSize)
	cfg.Pool.MaxSize = utils.EnvDefaultInt("DB_POOL_MAX_SIZE", cfg.Pool.MaxSize)
	cfg.Pool.AcquireIncrement = utils.EnvDefaultInt("DB_POOL_ACQUIRE_INCREMENT", cfg.Pool.AcquireIncrement)
	cfg.Pool.TimeoutSeconds = utils.EnvDefaultInt("DB_POOL_TIMEOUT_SECONDS", cfg.Pool.TimeoutSeconds)

	cfg.EnableQueryLog = utils.EnvDefaultBool("DB_ENABLE_QUERY_LOG", cfg.EnableQueryLog)
	cfg.SlowQueryTime = utils.EnvDefaultSeconds("DB_SLOW_QUERY_SECONDS", cfg.SlowQueryTime)
}
