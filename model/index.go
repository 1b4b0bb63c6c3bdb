package model

import (
	"strings"

	"github.com/pkg/errors"
)

// Settings holds the per-index settings the client manages.
type Settings struct {
	ShardCount      int    `bson:"shards" json:"shards" yaml:"shards"`
	ReplicaCount    int    `bson:"replicas" json:"replicas" yaml:"replicas"`
	RefreshInterval string `bson:"refresh_interval,omitempty" json:"refresh_interval,omitempty" yaml:"refresh_interval,omitempty"`
}

// SettingsDelta is a partial settings update. Nil fields are left
// unchanged. ShardCount exists only so that attempts to change it can
// be rejected explicitly.
type SettingsDelta struct {
	ShardCount      *int    `json:"shards,omitempty" yaml:"shards,omitempty"`
	ReplicaCount    *int    `json:"replicas,omitempty" yaml:"replicas,omitempty"`
	RefreshInterval *string `json:"refresh_interval,omitempty" yaml:"refresh_interval,omitempty"`
}

// Replicas builds a delta that changes only the replica count.
func Replicas(n int) SettingsDelta { return SettingsDelta{ReplicaCount: &n} }

// IsEmpty reports if the delta changes nothing.
func (d SettingsDelta) IsEmpty() bool {
	return d.ShardCount == nil && d.ReplicaCount == nil && d.RefreshInterval == nil
}

// Apply returns the settings with the delta applied. It does not
// enforce mutability rules.
func (s Settings) Apply(d SettingsDelta) Settings {
	out := s
	if d.ShardCount != nil {
		out.ShardCount = *d.ShardCount
	}
	if d.ReplicaCount != nil {
		out.ReplicaCount = *d.ReplicaCount
	}
	if d.RefreshInterval != nil {
		out.RefreshInterval = *d.RefreshInterval
	}
	return out
}

// Validate checks the numeric ranges.
func (s Settings) Validate() error {
	if s.ShardCount < 1 {
		return errors.Errorf("shard count must be at least 1, got %d", s.ShardCount)
	}
	if s.ReplicaCount < 0 {
		return errors.Errorf("replica count must not be negative, got %d", s.ReplicaCount)
	}
	return nil
}

// IndexHandle is the full definition used to provision an index.
type IndexHandle struct {
	Name     string           `bson:"_id" json:"name" yaml:"name"`
	Settings Settings         `bson:"settings" json:"settings" yaml:"settings"`
	Schema   SchemaDescriptor `bson:"schema" json:"schema" yaml:"schema"`
	Aliases  []string         `bson:"aliases,omitempty" json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

// NewIndexHandle returns a handle with an empty schema.
func NewIndexHandle(name string, shards, replicas int) IndexHandle {
	return IndexHandle{
		Name:     name,
		Settings: Settings{ShardCount: shards, ReplicaCount: replicas},
		Schema:   NewSchema(),
	}
}

// Validate checks the name, the settings and the schema.
func (h IndexHandle) Validate() error {
	if err := ValidateIndexName(h.Name); err != nil {
		return err
	}
	if err := h.Settings.Validate(); err != nil {
		return errors.Wrapf(err, "index '%s'", h.Name)
	}
	if err := h.Schema.Validate(); err != nil {
		return errors.Wrapf(err, "index '%s'", h.Name)
	}
	for _, alias := range h.Aliases {
		if err := ValidateIndexName(alias); err != nil {
			return errors.Wrap(err, "invalid alias")
		}
		if alias == h.Name {
			return errors.Errorf("alias '%s' has the same name as its index", alias)
		}
	}
	return nil
}

const invalidNameChars = `\/*?"<>| ,#:`

// ValidateIndexName applies the naming rules shared by all backends.
func ValidateIndexName(name string) error {
	switch {
	case name == "":
		return errors.New("index name must not be empty")
	case name == "." || name == "..":
		return errors.Errorf("index name '%s' is reserved", name)
	case len(name) > 255:
		return errors.Errorf("index name '%s' is longer than 255 bytes", name)
	case strings.ToLower(name) != name:
		return errors.Errorf("index name '%s' must be lowercase", name)
	case strings.ContainsAny(name[:1], "_-+"):
		return errors.Errorf("index name '%s' must not start with '_', '-' or '+'", name)
	case strings.ContainsAny(name, invalidNameChars):
		return errors.Errorf("index name '%s' must not contain any of %s", name, invalidNameChars)
	}
	return nil
}

// Alias is a named pointer to one or more indices.
type Alias struct {
	Name    string   `json:"name" yaml:"name"`
	Indices []string `json:"indices" yaml:"indices"`
}
