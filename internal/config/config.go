// Package config materializes the farm configuration once at startup.
//
// Values are resolved per key in priority order: FARM_* environment
// variables, then the farm.yml file (keys spelled with dashes), then
// built-in defaults. Keys without a default must be provided or loading
// fails.
package config

import (
	"crypto/rand"
	"fmt"
	"log"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

var defaults = map[string]string{
	"address":        "0.0.0.0",
	"port":           "6969",
	"flag_lifetime":  "5",
	"tick_duration":  "120",
	"submit_period":  "10",
	"submit_timeout": "10",
	"batch_limit":    "1000",
	"database":       ":memory:",
	"flag_format":    "[A-Z0-9]{31}=",
	"hfi_source":     "../hfi",
	"hfi_cache":      "../hfi-cache",
}

// Config holds every farm setting, validated and type-coerced. It is
// read-only after Load returns.
type Config struct {
	Address  string
	Port     int
	Password string
	// SecretKey signs session cookies. Env-only; a random key is
	// generated when unset, invalidating sessions across restarts.
	SecretKey []byte

	Teams      []string
	SystemType string
	SystemURL  string
	TeamToken  string

	FlagFormat string
	// FlagRegexp matches a flag anywhere in text (client-side scanning).
	FlagRegexp *regexp.Regexp
	// FlagAnchored matches a full string (server-side validation).
	FlagAnchored *regexp.Regexp

	FlagLifetime  int // ticks
	TickDuration  int // seconds
	SubmitPeriod  int // seconds
	SubmitTimeout int // seconds
	BatchLimit    int

	Database  string
	HfiSource string
	HfiCache  string
}

// LifetimeSeconds is flag_lifetime ticks converted to wall-clock seconds.
// A PENDING flag older than this is worthless and gets expired.
func (c *Config) LifetimeSeconds() int64 {
	return int64(c.FlagLifetime) * int64(c.TickDuration)
}

type loader struct {
	yaml   map[string]interface{}
	logger *log.Logger
}

// Load reads the YAML file at path (a missing file is tolerated with a
// warning), applies FARM_* environment overrides and defaults, and
// validates every field. A missing required key or malformed value is an
// error; callers treat that as fatal.
func Load(path string) (*Config, error) {
	logger := log.New(log.Writer(), "[CONFIG] ", log.LstdFlags)

	l := &loader{yaml: map[string]interface{}{}, logger: logger}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("No %s file found!", path)
		} else {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &l.yaml); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg := &Config{}

	if cfg.Address, err = l.str("address"); err != nil {
		return nil, err
	}
	if cfg.Port, err = l.integer("port"); err != nil {
		return nil, err
	}
	if cfg.Password, err = l.str("password"); err != nil {
		return nil, err
	}
	if cfg.SystemType, err = l.str("system_type"); err != nil {
		return nil, err
	}
	if cfg.SystemURL, err = l.str("system_url"); err != nil {
		return nil, err
	}
	if !strings.Contains(cfg.SystemURL, "://") {
		return nil, fmt.Errorf("no protocol specified in system URL %q", cfg.SystemURL)
	}
	if cfg.TeamToken, err = l.str("team_token"); err != nil {
		return nil, err
	}

	teams, err := l.str("teams")
	if err != nil {
		return nil, err
	}
	if cfg.Teams, err = ExpandTeams(teams); err != nil {
		return nil, err
	}

	if cfg.FlagFormat, err = l.str("flag_format"); err != nil {
		return nil, err
	}
	if cfg.FlagRegexp, err = regexp.Compile("(?m)" + cfg.FlagFormat); err != nil {
		return nil, fmt.Errorf("invalid flag_format: %w", err)
	}
	if cfg.FlagAnchored, err = regexp.Compile("^(?:" + cfg.FlagFormat + ")$"); err != nil {
		return nil, fmt.Errorf("invalid flag_format: %w", err)
	}

	if cfg.FlagLifetime, err = l.integer("flag_lifetime"); err != nil {
		return nil, err
	}
	if cfg.TickDuration, err = l.integer("tick_duration"); err != nil {
		return nil, err
	}
	if cfg.SubmitPeriod, err = l.integer("submit_period"); err != nil {
		return nil, err
	}
	if cfg.SubmitTimeout, err = l.integer("submit_timeout"); err != nil {
		return nil, err
	}
	if cfg.BatchLimit, err = l.integer("batch_limit"); err != nil {
		return nil, err
	}

	if cfg.Database, err = l.str("database"); err != nil {
		return nil, err
	}
	if cfg.Database == ":memory:" {
		logger.Println("Using an in-memory database is discouraged!")
	}
	if cfg.HfiSource, err = l.str("hfi_source"); err != nil {
		return nil, err
	}
	if cfg.HfiCache, err = l.str("hfi_cache"); err != nil {
		return nil, err
	}

	cfg.SecretKey = l.secretKey()

	return cfg, nil
}

// lookup resolves a raw value: env, then YAML, then defaults. The YAML
// file spells keys with dashes where the rest of the system uses
// underscores.
func (l *loader) lookup(key string) (string, bool) {
	if val := os.Getenv("FARM_" + strings.ToUpper(key)); val != "" {
		return val, true
	}
	if val, ok := l.yaml[strings.ReplaceAll(key, "_", "-")]; ok && val != nil {
		return fmt.Sprintf("%v", val), true
	}
	if val, ok := defaults[key]; ok {
		return val, true
	}
	return "", false
}

func (l *loader) str(key string) (string, error) {
	val, ok := l.lookup(key)
	if !ok {
		return "", fmt.Errorf("no value for parameter %q: provide one via FARM_%s or farm.yml", key, strings.ToUpper(key))
	}
	return val, nil
}

func (l *loader) integer(key string) (int, error) {
	val, err := l.str(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("parameter %q must be an integer, got %q", key, val)
	}
	return n, nil
}

// secretKey is env-only: a YAML file is far more likely to end up in a
// team repo than an environment variable.
func (l *loader) secretKey() []byte {
	if val := os.Getenv("FARM_SECRET_KEY"); val != "" {
		return []byte(val)
	}
	l.logger.Println("No secret key provided. Generating a random one...")
	l.logger.Println("You can specify a secret key using the FARM_SECRET_KEY environment variable")
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic(err) // crypto/rand does not fail on supported platforms
	}
	return key
}
