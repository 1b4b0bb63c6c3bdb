package esdb

import (
	"strconv"

	"github.com/mongodb/docstore/model"
	"github.com/pkg/errors"
)

type fieldMapping struct {
	Type       string                  `json:"type,omitempty"`
	Format     string                  `json:"format,omitempty"`
	Properties map[string]fieldMapping `json:"properties,omitempty"`
}

type mappings struct {
	Properties map[string]fieldMapping `json:"properties,omitempty"`
}

func toMappings(schema model.SchemaDescriptor) mappings {
	out := mappings{Properties: make(map[string]fieldMapping, len(schema.Fields))}
	for name, field := range schema.Fields {
		out.Properties[name] = toFieldMapping(field)
	}
	return out
}

func toFieldMapping(field model.FieldMapping) fieldMapping {
	out := fieldMapping{Type: string(field.Type), Format: field.Format}
	if len(field.Properties) > 0 {
		out.Properties = make(map[string]fieldMapping, len(field.Properties))
		for name, child := range field.Properties {
			out.Properties[name] = toFieldMapping(child)
		}
	}
	return out
}

// fromMappings converts a mapping read back from the cluster. Objects
// are reported without a type.
func fromMappings(in mappings) model.SchemaDescriptor {
	out := model.NewSchema()
	for name, field := range in.Properties {
		out.Fields[name] = fromFieldMapping(field)
	}
	return out
}

func fromFieldMapping(in fieldMapping) model.FieldMapping {
	out := model.FieldMapping{Type: model.DataType(in.Type), Format: in.Format}
	if out.Type == "" {
		out.Type = model.TypeObject
	}
	out.Analyzed = out.Type == model.TypeText
	if len(in.Properties) > 0 {
		out.Properties = make(map[string]model.FieldMapping, len(in.Properties))
		for name, child := range in.Properties {
			out.Properties[name] = fromFieldMapping(child)
		}
	}
	return out
}

type settingsBody struct {
	Shards          int    `json:"number_of_shards,omitempty"`
	Replicas        *int   `json:"number_of_replicas,omitempty"`
	RefreshInterval string `json:"refresh_interval,omitempty"`
}

func toSettings(s model.Settings) settingsBody {
	replicas := s.ReplicaCount
	return settingsBody{Shards: s.ShardCount, Replicas: &replicas, RefreshInterval: s.RefreshInterval}
}

func toSettingsDelta(d model.SettingsDelta) settingsBody {
	out := settingsBody{Replicas: d.ReplicaCount}
	if d.RefreshInterval != nil {
		out.RefreshInterval = *d.RefreshInterval
	}
	return out
}

// storedSettings is the settings object the cluster reports, where
// every value is a string.
type storedSettings struct {
	Settings struct {
		Index struct {
			Shards          string `json:"number_of_shards"`
			Replicas        string `json:"number_of_replicas"`
			RefreshInterval string `json:"refresh_interval"`
		} `json:"index"`
	} `json:"settings"`
}

func (s storedSettings) settings() (model.Settings, error) {
	idx := s.Settings.Index
	shards, err := strconv.Atoi(idx.Shards)
	if err != nil {
		return model.Settings{}, errors.Wrapf(err, "parsing shard count '%s'", idx.Shards)
	}
	replicas, err := strconv.Atoi(idx.Replicas)
	if err != nil {
		return model.Settings{}, errors.Wrapf(err, "parsing replica count '%s'", idx.Replicas)
	}
	return model.Settings{ShardCount: shards, ReplicaCount: replicas, RefreshInterval: idx.RefreshInterval}, nil
}
