package esdb

import (
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/mongodb/grip"
)

// Options configures the connection to an Elasticsearch cluster.
type Options struct {
	Addresses  []string `json:"addresses" yaml:"addresses"`
	CloudID    string   `json:"cloud_id" yaml:"cloud_id"`
	Username   string   `json:"username" yaml:"username"`
	Password   string   `json:"password" yaml:"password"`
	APIKey     string   `json:"api_key" yaml:"api_key"`
	MaxRetries int      `json:"max_retries" yaml:"max_retries"`

	// Transport replaces the HTTP transport, mostly for tests.
	Transport http.RoundTripper `json:"-" yaml:"-"`
}

// Validate reports every problem with the options.
func (o Options) Validate() error {
	catcher := grip.NewBasicCatcher()
	catcher.NewWhen(len(o.Addresses) == 0 && o.CloudID == "", "must specify addresses or a cloud id")
	catcher.NewWhen(len(o.Addresses) > 0 && o.CloudID != "", "cannot specify both addresses and a cloud id")
	catcher.NewWhen(o.Username != "" && o.Password == "", "username requires a password")
	catcher.NewWhen(o.APIKey != "" && o.Username != "", "cannot use both an api key and basic auth")
	catcher.NewWhen(o.MaxRetries < 0, "max retries must not be negative")
	return catcher.Resolve()
}

func (o Options) config() elasticsearch.Config {
	return elasticsearch.Config{
		Addresses:    o.Addresses,
		CloudID:      o.CloudID,
		Username:     o.Username,
		Password:     o.Password,
		APIKey:       o.APIKey,
		MaxRetries:   o.MaxRetries,
		DisableRetry: o.MaxRetries == 0,
		Transport:    o.Transport,
	}
}
