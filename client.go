/*
Package docstore is a client for clustered document indices.

A Client bundles the components that operate on a db.Backend: the
Admin for index provisioning, the Store for single document CRUD, the
Updater for partial updates and upserts and the BulkMutator for
delete- and update-by-query. Every mutating call reports an Outcome
interpreted by the shared AckTracker, so partially acknowledged
changes are surfaced rather than hidden.

Backends live in their own packages: mock (in memory), esdb
(Elasticsearch) and mdb (MongoDB).
*/
package docstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mongodb/docstore/db"
	"github.com/pkg/errors"
)

const (
	defaultBatchSize       = 1000
	defaultScrollKeepAlive = 5 * time.Minute
)

type options struct {
	retryOnConflict int
	batchSize       int
	keepAlive       time.Duration
	refresh         db.RefreshPolicy
	strict          bool
	acks            *AckTracker
}

func newOptions(opts ...Option) options {
	cfg := options{
		batchSize: defaultBatchSize,
		keepAlive: defaultScrollKeepAlive,
	}
	for _, opt := range opts {
		opt.apply(&cfg)
	}
	if cfg.acks == nil {
		cfg.acks = NewAckTracker(cfg.strict)
	}
	return cfg
}

// Option configures a Client.
type Option interface {
	apply(*options)
}

type optionFunc func(*options)

func (o optionFunc) apply(c *options) { o(c) }

// WithRetryOnConflict sets the retry bound used by update calls that
// pass a negative retryOnConflict.
func WithRetryOnConflict(n int) Option {
	return optionFunc(func(c *options) {
		if n >= 0 {
			c.retryOnConflict = n
		}
	})
}

// WithBatchSize sets the default scan batch size of bulk operations.
func WithBatchSize(n int) Option {
	return optionFunc(func(c *options) {
		if n > 0 {
			c.batchSize = n
		}
	})
}

// WithScrollKeepAlive sets how long bulk scans keep their snapshot
// open between batches.
func WithScrollKeepAlive(d time.Duration) Option {
	return optionFunc(func(c *options) {
		if d > 0 {
			c.keepAlive = d
		}
	})
}

// WithDefaultRefresh sets the refresh policy of writes that do not
// pass WithRefresh.
func WithDefaultRefresh(p db.RefreshPolicy) Option {
	return optionFunc(func(c *options) { c.refresh = p })
}

// WithStrictAcks turns partially acknowledged outcomes into errors.
func WithStrictAcks(strict bool) Option {
	return optionFunc(func(c *options) { c.strict = strict })
}

// WithAckTracker shares a tracker between clients. It overrides
// WithStrictAcks.
func WithAckTracker(t *AckTracker) Option {
	return optionFunc(func(c *options) { c.acks = t })
}

// Client is the entry point of the package. It is safe for concurrent
// use; the backend owns the connection pool.
type Client struct {
	backend db.Backend
	opts    options

	admin   *Admin
	store   *Store
	updater *Updater
	bulk    *BulkMutator
}

// New builds a client over a backend.
func New(backend db.Backend, opts ...Option) (*Client, error) {
	if backend == nil {
		return nil, errors.New("cannot build a client without a backend")
	}

	cfg := newOptions(opts...)
	c := &Client{backend: backend, opts: cfg}
	c.admin = &Admin{backend: backend, acks: cfg.acks}
	c.store = &Store{backend: backend, acks: cfg.acks, refresh: cfg.refresh}
	c.updater = &Updater{backend: backend, acks: cfg.acks, refresh: cfg.refresh, retries: cfg.retryOnConflict}
	c.bulk = &BulkMutator{backend: backend, acks: cfg.acks, batchSize: cfg.batchSize, keepAlive: cfg.keepAlive}

	return c, nil
}

func (c *Client) Admin() *Admin                   { return c.admin }
func (c *Client) Store() *Store                   { return c.store }
func (c *Client) Updater() *Updater               { return c.updater }
func (c *Client) Bulk() *BulkMutator              { return c.bulk }
func (c *Client) Acks() *AckTracker               { return c.opts.acks }
func (c *Client) Backend() db.Backend             { return c.backend }
func (c *Client) Close(ctx context.Context) error { return c.backend.Close(ctx) }

// WriteOption adjusts a single write.
type WriteOption func(*writeOptions)

type writeOptions struct {
	refresh db.RefreshPolicy
}

// WithRefresh sets when the write becomes visible to searches.
func WithRefresh(p db.RefreshPolicy) WriteOption {
	return func(o *writeOptions) { o.refresh = p }
}

func resolveWriteOptions(def db.RefreshPolicy, opts []WriteOption) writeOptions {
	out := writeOptions{refresh: def}
	for _, opt := range opts {
		opt(&out)
	}
	return out
}

func correlationID() string { return uuid.New().String() }
