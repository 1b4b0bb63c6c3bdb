package model

import "github.com/pkg/errors"

// DefaultScriptLang is used when a script does not name its language.
const DefaultScriptLang = "painless"

// Script is an opaque backend-executed program. The client never
// interprets Source; Params are bound read-only for the run.
type Script struct {
	Source string         `bson:"source" json:"source" yaml:"source"`
	Lang   string         `bson:"lang,omitempty" json:"lang,omitempty" yaml:"lang,omitempty"`
	Params map[string]any `bson:"params,omitempty" json:"params,omitempty" yaml:"params,omitempty"`
}

// Language returns the script language, defaulting to painless.
func (s Script) Language() string {
	if s.Lang == "" {
		return DefaultScriptLang
	}
	return s.Lang
}

// UpdateDirective is the closed set of partial update kinds: a
// FieldMerge or a ScriptMutation.
type UpdateDirective interface {
	Validate() error
	directive()
}

// FieldMerge merges Partial into the stored source recursively.
type FieldMerge struct {
	Partial map[string]any
}

// ScriptMutation runs Script against the stored source.
type ScriptMutation struct {
	Script Script
}

func (FieldMerge) directive()     {}
func (ScriptMutation) directive() {}

// MergeFields builds a FieldMerge directive.
func MergeFields(partial map[string]any) FieldMerge { return FieldMerge{Partial: partial} }

// RunScript builds a ScriptMutation directive.
func RunScript(source string, params map[string]any) ScriptMutation {
	return ScriptMutation{Script: Script{Source: source, Params: params}}
}

func (m FieldMerge) Validate() error {
	if m.Partial == nil {
		return errors.New("field merge requires a partial document")
	}
	return nil
}

func (m ScriptMutation) Validate() error {
	if m.Script.Source == "" {
		return errors.New("script mutation requires a script body")
	}
	return nil
}
