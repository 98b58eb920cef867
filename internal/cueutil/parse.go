// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// ParseResult holds what a successful parse produced.
type ParseResult[T any] struct {
	// Value is the decoded Go value.
	Value *T

	// Unified is the schema definition unified with the user document. It
	// still knows which optional fields the user set, which the decoded Go
	// value cannot tell.
	Unified cue.Value
}

// ParseAndDecode checks a user document against an embedded schema and
// decodes it:
//
//  1. Reject documents larger than the configured maximum
//  2. Compile the schema and look up the definition at schemaPath
//  3. Compile the user document and unify it with that definition
//  4. Validate the unified value (concrete unless WithConcrete(false))
//  5. Decode into T
//
// Parameters:
//   - schema: the embedded schema source (usually from //go:embed)
//   - data: the user document; JSON is accepted since JSON is valid CUE
//   - schemaPath: the root definition to check against, e.g. "#Config"
//   - opts: size limit, concreteness and the filename used in errors
//
// A malformed schema or a missing definition is reported as an internal
// error. Problems with the user document come back through FormatError,
// prefixed with the filename and the offending field path.
func ParseAndDecode[T any](schema, data []byte, schemaPath string, opts ...Option) (*ParseResult[T], error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	filename := options.displayName()

	// Step 1: size guard, before CUE allocates anything
	if err := CheckFileSize(data, options.maxFileSize, filename); err != nil {
		return nil, err
	}

	ctx := cuecontext.New()

	// Step 2: schema definition
	definition, err := compileDefinition(ctx, schema, schemaPath)
	if err != nil {
		return nil, err
	}

	// Step 3: user document, unified with the definition
	userValue := ctx.CompileBytes(data, cue.Filename(filename))
	if userValue.Err() != nil {
		return nil, FormatError(userValue.Err(), filename)
	}
	unified := definition.Unify(userValue)

	// Step 4: validation
	if err := unified.Validate(cue.Concrete(options.concrete)); err != nil {
		return nil, FormatError(err, filename)
	}

	// Step 5: decode
	var result T
	if err := unified.Decode(&result); err != nil {
		return nil, FormatError(err, filename)
	}

	return &ParseResult[T]{
		Value:   &result,
		Unified: unified,
	}, nil
}

// ParseAndDecodeString is ParseAndDecode for a schema held in a string
// constant.
func ParseAndDecodeString[T any](schema string, data []byte, schemaPath string, opts ...Option) (*ParseResult[T], error) {
	return ParseAndDecode[T]([]byte(schema), data, schemaPath, opts...)
}

// compileDefinition compiles schema and returns the definition at path.
// Both failures are programming errors: the schema ships with the binary.
func compileDefinition(ctx *cue.Context, schema []byte, path string) (cue.Value, error) {
	schemaValue := ctx.CompileBytes(schema)
	if err := schemaValue.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("internal error: failed to compile schema: %w", err)
	}
	definition := schemaValue.LookupPath(cue.ParsePath(path))
	if err := definition.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("internal error: schema definition %s not found: %w", path, err)
	}
	return definition, nil
}
