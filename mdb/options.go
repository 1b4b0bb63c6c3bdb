package mdb

import (
	"time"

	"github.com/mongodb/grip"
)

const defaultConnectTimeout = 10 * time.Second

// Options configures the MongoDB connection.
type Options struct {
	URI            string        `json:"uri" yaml:"uri"`
	Database       string        `json:"database" yaml:"database"`
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
}

func (o Options) Validate() error {
	catcher := grip.NewBasicCatcher()
	catcher.NewWhen(o.URI == "", "must specify a connection uri")
	catcher.NewWhen(o.Database == "", "must specify a database")
	catcher.NewWhen(o.ConnectTimeout < 0, "connect timeout must not be negative")
	return catcher.Resolve()
}

func (o Options) connectTimeout() time.Duration {
	if o.ConnectTimeout == 0 {
		return defaultConnectTimeout
	}
	return o.ConnectTimeout
}
