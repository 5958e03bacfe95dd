// Package config loads the settings of the server and the worker from the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"go.appointy.com/capi/jerrors"
	"go.appointy.com/capi/jobs"
)

// Config holds all settings of capi.
type Config struct {
	// Database
	DatabaseURL  string
	Schema       string
	StoreTimeout time.Duration
	// SessionRole runs Postgres statements as the role of the caller.
	SessionRole bool

	// Server
	Env            string
	Port           int
	TagsFile       string
	JWTSecret      string
	DefaultRole    string
	ExtendedErrors jerrors.Verbosity
	MaxConnections int
	CORS           bool
	// PubSubURL is the gocloud subscription events are read from, and
	// PubSubTopicURL the topic publish_event jobs send to. Without them
	// events travel over Postgres NOTIFY.
	PubSubURL      string
	PubSubTopicURL string

	// Worker
	WorkerConcurrency  int
	WorkerPollInterval time.Duration
	WorkerLease        time.Duration
	WorkerMaxAttempts  int
	WorkerDrainTimeout time.Duration
}

// Development reports whether GraphiQL and schema watching are enabled.
func (c *Config) Development() bool {
	return c.Env == "development"
}

// Load reads an optional .env file and then the environment. Variables
// already set take precedence over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from lookup.
func FromEnv(lookup func(string) string) (*Config, error) {
	e := env{lookup: lookup}
	c := &Config{
		DatabaseURL:  e.str("DATABASE_URL", ""),
		Schema:       e.str("CAPI_SCHEMA", "app_public"),
		StoreTimeout: e.duration("CAPI_STORE_TIMEOUT", jobs.DefaultStoreTimeout),
		SessionRole:  e.boolean("CAPI_SESSION_ROLE", true),

		Env:            e.str("CAPI_ENV", "production"),
		Port:           e.integer("PORT", 5000),
		TagsFile:       e.str("CAPI_TAGS_FILE", "postgraphile.tags.yaml"),
		JWTSecret:      e.str("JWT_SECRET", ""),
		DefaultRole:    e.str("CAPI_DEFAULT_ROLE", "capi_anon"),
		ExtendedErrors: jerrors.ParseVerbosity(e.str("CAPI_EXTENDED_ERRORS", "hint,detail,errcode")),
		MaxConnections: e.integer("CAPI_MAX_CONNECTIONS", 0),
		CORS:           e.boolean("CAPI_CORS", false),
		PubSubURL:      e.str("CAPI_PUBSUB_URL", ""),
		PubSubTopicURL: e.str("CAPI_PUBSUB_TOPIC_URL", ""),

		WorkerConcurrency:  e.integer("WORKER_CONCURRENCY", jobs.DefaultConcurrency),
		WorkerPollInterval: e.duration("WORKER_POLL_INTERVAL", jobs.DefaultPollInterval),
		WorkerLease:        e.duration("WORKER_LEASE", jobs.DefaultLease),
		WorkerMaxAttempts:  e.integer("WORKER_MAX_ATTEMPTS", jobs.DefaultMaxAttempts),
		WorkerDrainTimeout: e.duration("WORKER_DRAIN_TIMEOUT", jobs.DefaultDrainTimeout),
	}
	if len(e.errs) > 0 {
		return nil, errors.Join(e.errs...)
	}
	return c, nil
}

// Validate checks the settings needed to serve or work.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d is out of range", c.Port))
	}
	if c.WorkerConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("WORKER_CONCURRENCY must be positive"))
	}
	if c.WorkerMaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("WORKER_MAX_ATTEMPTS must be positive"))
	}
	return errors.Join(errs...)
}

type env struct {
	lookup func(string) string
	errs   []error
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(e.lookup(key)); v != "" {
		return v
	}
	return def
}

func (e *env) integer(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (e *env) boolean(key string, def bool) bool {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

// duration accepts Go durations ("1s") and plain milliseconds ("1000").
func (e *env) duration(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}
