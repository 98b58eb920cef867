// SPDX-License-Identifier: MPL-2.0

package config

import (
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/idlsync/idlsync/internal/cueutil"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// These tests verify Go struct JSON tags match CUE schema field names, so a
// field added on one side only fails in CI instead of being silently dropped.

// extractCUEFields returns the top-level regular fields of a CUE definition,
// mapped to whether they are optional.
func extractCUEFields(t *testing.T, val cue.Value) map[string]bool {
	t.Helper()

	fields := make(map[string]bool)
	iter, err := val.Fields(cue.Definitions(false), cue.Optional(true))
	if err != nil {
		t.Fatalf("failed to iterate CUE fields: %v", err)
	}
	for iter.Next() {
		sel := iter.Selector()
		if sel.LabelType().IsHidden() || sel.IsDefinition() {
			continue
		}
		fields[strings.TrimSuffix(sel.String(), "?")] = iter.IsOptional()
	}
	return fields
}

// extractGoJSONTags returns the JSON names of a struct's exported fields,
// mapped to whether they carry omitempty.
func extractGoJSONTags(t *testing.T, typ reflect.Type) map[string]bool {
	t.Helper()

	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		t.Fatalf("expected struct type, got %s", typ.Kind())
	}

	fields := make(map[string]bool)
	for i := range typ.NumField() {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}
		parts := strings.Split(field.Tag.Get("json"), ",")
		if parts[0] == "" || parts[0] == "-" {
			continue
		}
		fields[parts[0]] = slices.Contains(parts[1:], "omitempty")
	}
	return fields
}

func assertFieldsSync(t *testing.T, structName string, cueFields, goFields map[string]bool) {
	t.Helper()

	for field := range cueFields {
		if _, exists := goFields[field]; !exists {
			t.Errorf("[%s] CUE field %q not found in Go struct (missing JSON tag)", structName, field)
		}
	}
	for field := range goFields {
		if _, exists := cueFields[field]; !exists {
			t.Errorf("[%s] Go JSON tag %q not found in CUE schema (missing CUE field)", structName, field)
		}
	}
}

func lookupDefinition(t *testing.T, defPath string) cue.Value {
	t.Helper()

	schema := cuecontext.New().CompileString(configSchema)
	if schema.Err() != nil {
		t.Fatalf("failed to compile CUE schema: %v", schema.Err())
	}
	def := schema.LookupPath(cue.ParsePath(defPath))
	if def.Err() != nil {
		t.Fatalf("failed to lookup CUE definition %s: %v", defPath, def.Err())
	}
	return def
}

func TestSchemaSync(t *testing.T) {
	t.Parallel()

	tests := []struct {
		definition string
		typ        reflect.Type
	}{
		{definition: "#Config", typ: reflect.TypeFor[Config]()},
		{definition: "#Remote", typ: reflect.TypeFor[RemoteConfig]()},
		{definition: "#Author", typ: reflect.TypeFor[AuthorConfig]()},
	}

	for _, tt := range tests {
		t.Run(tt.definition, func(t *testing.T) {
			t.Parallel()

			cueFields := extractCUEFields(t, lookupDefinition(t, tt.definition))
			goFields := extractGoJSONTags(t, tt.typ)
			assertFieldsSync(t, tt.typ.Name(), cueFields, goFields)
		})
	}
}

func TestSchemaStrategiesMatchGo(t *testing.T) {
	t.Parallel()

	for _, s := range Strategies() {
		doc := []byte(`fileNameStrategy: "` + s.String() + `"`)
		if _, err := cueutil.ParseAndDecodeString[map[string]any](configSchema, doc, "#Config"); err != nil {
			t.Errorf("schema rejects strategy %q: %v", s, err)
		}
	}
}
