package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateIndexName(t *testing.T) {
	for name, valid := range map[string]bool{
		"people":                 true,
		"people-2024.01":         true,
		"":                       false,
		".":                      false,
		"..":                     false,
		"People":                 false,
		"_people":                false,
		"-people":                false,
		"+people":                false,
		"peo ple":                false,
		"peo*ple":                false,
		"peo,ple":                false,
		"peo#ple":                false,
		"peo:ple":                false,
		strings.Repeat("a", 255): true,
		strings.Repeat("a", 256): false,
	} {
		err := ValidateIndexName(name)
		if valid {
			assert.NoError(t, err, name)
		} else {
			assert.Error(t, err, name)
		}
	}
}

func TestIndexHandleValidate(t *testing.T) {
	assert.NoError(t, NewIndexHandle("people", 1, 0).Validate())
	assert.Error(t, NewIndexHandle("people", 0, 0).Validate())
	assert.Error(t, NewIndexHandle("people", 1, -1).Validate())

	handle := NewIndexHandle("people", 1, 1)
	handle.Aliases = []string{"humans"}
	assert.NoError(t, handle.Validate())
	handle.Aliases = []string{"Humans"}
	assert.Error(t, handle.Validate())
}

func TestSettingsDelta(t *testing.T) {
	assert.True(t, SettingsDelta{}.IsEmpty())

	delta := Replicas(3)
	assert.False(t, delta.IsEmpty())

	base := Settings{ShardCount: 2, ReplicaCount: 1, RefreshInterval: "1s"}
	assert.Equal(t, Settings{ShardCount: 2, ReplicaCount: 3, RefreshInterval: "1s"}, base.Apply(delta))
	assert.Equal(t, 1, base.ReplicaCount)

	interval := "-1"
	assert.Equal(t, "-1", base.Apply(SettingsDelta{RefreshInterval: &interval}).RefreshInterval)
}
