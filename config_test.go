package docstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mongodb/docstore/db"
	"github.com/mongodb/docstore/esdb"
	"github.com/mongodb/docstore/mock"
	"github.com/mongodb/docstore/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "docstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))
	return path
}

func TestConfigValidate(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		conf := &Config{}
		require.NoError(t, conf.Validate())
		assert.Equal(t, BackendMemory, conf.Backend)
		assert.Equal(t, defaultBatchSize, conf.BatchSize)
		assert.Equal(t, defaultScrollKeepAlive, conf.ScrollKeepAlive)
	})
	t.Run("CollectsEveryProblem", func(t *testing.T) {
		conf := &Config{Backend: "cassandra", RetryOnConflict: -1, Refresh: "sometimes"}
		err := conf.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown backend 'cassandra'")
		assert.Contains(t, err.Error(), "retry on conflict must not be negative")
		assert.Contains(t, err.Error(), "unknown refresh policy 'sometimes'")
	})
	for name, conf := range map[string]*Config{
		"ElasticsearchWithoutAddresses": {Backend: BackendElasticsearch},
		"ElasticsearchAddressAndCloud":  {Backend: BackendElasticsearch, Elasticsearch: esdb.Options{Addresses: []string{"http://localhost:9200"}, CloudID: "c"}},
		"MongoDBWithoutURI":             {Backend: BackendMongoDB},
		"NegativeBatch":                 {BatchSize: -10},
		"NegativeKeepAlive":             {ScrollKeepAlive: -time.Second},
		"NegativeLogInterval":           {Monitor: MonitorConfig{LogInterval: -time.Second}},
	} {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, conf.Validate())
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("File", func(t *testing.T) {
		conf, err := LoadConfig(writeConfig(t, `
backend: elasticsearch
elasticsearch:
  addresses:
    - http://localhost:9200
  max_retries: 2
retry_on_conflict: 3
batch_size: 50
scroll_keep_alive: 30s
refresh: wait_for
strict_acks: true
tracing:
  enabled: true
monitor:
  enabled: true
  filter:
    indices: [people]
`))
		require.NoError(t, err)
		assert.Equal(t, BackendElasticsearch, conf.Backend)
		assert.Equal(t, []string{"http://localhost:9200"}, conf.Elasticsearch.Addresses)
		assert.Equal(t, 2, conf.Elasticsearch.MaxRetries)
		assert.Equal(t, 3, conf.RetryOnConflict)
		assert.Equal(t, 50, conf.BatchSize)
		assert.Equal(t, 30*time.Second, conf.ScrollKeepAlive)
		assert.Equal(t, db.RefreshWaitFor, conf.Refresh)
		assert.True(t, conf.StrictAcks)
		assert.True(t, conf.Tracing.Enabled)
		assert.False(t, conf.Tracing.Statements)
		assert.Equal(t, []string{"people"}, conf.Monitor.Filter.Indices)
	})
	t.Run("Missing", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
	t.Run("Malformed", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "backend: [memory"))
		assert.Error(t, err)
	})
	t.Run("Invalid", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "backend: mongodb\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mongodb options")
	})
}

func TestConfigClientOptions(t *testing.T) {
	conf := &Config{RetryOnConflict: 4, BatchSize: 20, ScrollKeepAlive: time.Minute, Refresh: db.RefreshTrue, StrictAcks: true}
	opts := newOptions(conf.ClientOptions()...)

	assert.Equal(t, 4, opts.retryOnConflict)
	assert.Equal(t, 20, opts.batchSize)
	assert.Equal(t, time.Minute, opts.keepAlive)
	assert.Equal(t, db.RefreshTrue, opts.refresh)
	assert.True(t, opts.acks.Strict())
}

func TestConfigNewBackend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	t.Run("Memory", func(t *testing.T) {
		conf := &Config{}
		backend, err := conf.NewBackend(ctx, db.NewScriptRegistry())
		require.NoError(t, err)
		_, ok := backend.(*mock.Cluster)
		assert.True(t, ok)
	})
	t.Run("Instrumented", func(t *testing.T) {
		conf := &Config{
			Monitor: MonitorConfig{Enabled: true, LogInterval: time.Hour},
			Tracing: TracingConfig{Enabled: true},
		}
		scripts := db.NewScriptRegistry()
		require.NoError(t, registerIncrement(scripts))

		client, err := conf.NewClient(ctx, scripts)
		require.NoError(t, err)
		_, ok := client.Backend().(*mock.Cluster)
		assert.False(t, ok)
		assert.Equal(t, "memory", client.Backend().Name())

		// scripts resolve through the registry the caller passed in
		_, err = client.Admin().CreateIndex(ctx, model.NewIndexHandle("people", 1, 0))
		require.NoError(t, err)
		_, err = client.Store().Put(ctx, model.NewDocument("people", map[string]any{"count": 1}), ClientSupplied("one"))
		require.NoError(t, err)
		_, err = client.Updater().Update(ctx, "people", "one", model.RunScript(incrementScript, map[string]any{"by": 1}), 0)
		require.NoError(t, err)
		doc, err := client.Store().Get(ctx, "people", "one")
		require.NoError(t, err)
		assert.Equal(t, 2, doc.Source["count"])
		assert.NoError(t, client.Close(ctx))
	})
	t.Run("Elasticsearch", func(t *testing.T) {
		conf := &Config{Backend: BackendElasticsearch, Elasticsearch: esdb.Options{Addresses: []string{"http://localhost:9200"}}}
		backend, err := conf.NewBackend(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, "elasticsearch", backend.Name())
	})
	t.Run("InvalidConfig", func(t *testing.T) {
		conf := &Config{Backend: BackendMongoDB}
		_, err := conf.NewBackend(ctx, nil)
		assert.Error(t, err)
	})
}
