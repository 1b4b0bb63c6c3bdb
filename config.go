package docstore

import (
	"context"
	"os"
	"time"

	"github.com/mongodb/docstore/apm"
	"github.com/mongodb/docstore/db"
	"github.com/mongodb/docstore/esdb"
	"github.com/mongodb/docstore/mdb"
	"github.com/mongodb/docstore/mock"
	"github.com/mongodb/grip"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// BackendKind names a backend implementation.
type BackendKind string

const (
	BackendMemory        BackendKind = "memory"
	BackendElasticsearch BackendKind = "elasticsearch"
	BackendMongoDB       BackendKind = "mongodb"
)

// Config describes a client and the backend it talks to.
type Config struct {
	Backend       BackendKind  `json:"backend" yaml:"backend"`
	Elasticsearch esdb.Options `json:"elasticsearch" yaml:"elasticsearch"`
	MongoDB       mdb.Options  `json:"mongodb" yaml:"mongodb"`

	RetryOnConflict int              `json:"retry_on_conflict" yaml:"retry_on_conflict"`
	BatchSize       int              `json:"batch_size" yaml:"batch_size"`
	ScrollKeepAlive time.Duration    `json:"scroll_keep_alive" yaml:"scroll_keep_alive"`
	Refresh         db.RefreshPolicy `json:"refresh" yaml:"refresh"`
	StrictAcks      bool             `json:"strict_acks" yaml:"strict_acks"`

	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
	Monitor MonitorConfig `json:"monitor" yaml:"monitor"`
}

// TracingConfig enables OpenTelemetry spans around backend calls.
type TracingConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Statements records the stripped request payload on spans.
	Statements bool `json:"statements" yaml:"statements"`
}

// MonitorConfig enables per index and operation call counters.
type MonitorConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// LogInterval logs and rotates the counters periodically when set.
	LogInterval time.Duration     `json:"log_interval" yaml:"log_interval"`
	Filter      apm.MonitorConfig `json:"filter" yaml:"filter"`
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config file '%s'", path)
	}

	conf := &Config{}
	if err = yaml.Unmarshal(data, conf); err != nil {
		return nil, errors.Wrapf(err, "parsing config file '%s'", path)
	}
	if err = conf.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config file '%s'", path)
	}
	return conf, nil
}

// Validate reports every problem with the configuration and fills in
// defaults.
func (c *Config) Validate() error {
	catcher := grip.NewBasicCatcher()

	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	switch c.Backend {
	case BackendMemory:
	case BackendElasticsearch:
		catcher.Wrap(c.Elasticsearch.Validate(), "elasticsearch options")
	case BackendMongoDB:
		catcher.Wrap(c.MongoDB.Validate(), "mongodb options")
	default:
		catcher.Errorf("unknown backend '%s'", c.Backend)
	}

	catcher.NewWhen(c.RetryOnConflict < 0, "retry on conflict must not be negative")
	catcher.NewWhen(c.BatchSize < 0, "batch size must not be negative")
	catcher.NewWhen(c.ScrollKeepAlive < 0, "scroll keep alive must not be negative")
	catcher.NewWhen(c.Monitor.LogInterval < 0, "monitor log interval must not be negative")

	switch c.Refresh {
	case db.RefreshDefault, db.RefreshFalse, db.RefreshTrue, db.RefreshWaitFor:
	default:
		catcher.Errorf("unknown refresh policy '%s'", c.Refresh)
	}

	if c.BatchSize == 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.ScrollKeepAlive == 0 {
		c.ScrollKeepAlive = defaultScrollKeepAlive
	}

	return catcher.Resolve()
}

// ClientOptions translates the configuration into client options.
func (c *Config) ClientOptions() []Option {
	return []Option{
		WithRetryOnConflict(c.RetryOnConflict),
		WithBatchSize(c.BatchSize),
		WithScrollKeepAlive(c.ScrollKeepAlive),
		WithDefaultRefresh(c.Refresh),
		WithStrictAcks(c.StrictAcks),
	}
}

// NewBackend connects the configured backend and wraps it with the
// configured instrumentation. Backends that run scripts in-process use
// the given registry.
func (c *Config) NewBackend(ctx context.Context, scripts *db.ScriptRegistry) (db.Backend, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if scripts == nil {
		scripts = db.NewScriptRegistry()
	}

	var (
		backend db.Backend
		err     error
	)
	switch c.Backend {
	case BackendMemory:
		cluster := mock.NewCluster()
		cluster.Scripts = scripts
		backend = cluster
	case BackendElasticsearch:
		backend, err = esdb.New(c.Elasticsearch)
	case BackendMongoDB:
		backend, err = mdb.New(ctx, c.MongoDB, scripts)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "connecting %s backend", c.Backend)
	}

	var observers []apm.Observer
	if c.Monitor.Enabled {
		var monitor apm.Monitor = apm.NewBasicMonitor(&c.Monitor.Filter)
		if c.Monitor.LogInterval > 0 {
			monitor = apm.NewLoggingMonitor(ctx, c.Monitor.LogInterval, monitor)
		}
		observers = append(observers, monitor)
	}
	if c.Tracing.Enabled {
		observers = append(observers, apm.NewTracer(apm.WithStatementAttributeDisabled(!c.Tracing.Statements)))
	}
	if len(observers) > 0 {
		backend = apm.Wrap(backend, observers...)
	}

	return backend, nil
}

// NewClient builds the configured backend and a client over it.
func (c *Config) NewClient(ctx context.Context, scripts *db.ScriptRegistry) (*Client, error) {
	backend, err := c.NewBackend(ctx, scripts)
	if err != nil {
		return nil, err
	}
	return New(backend, c.ClientOptions()...)
}
