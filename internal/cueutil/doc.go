// SPDX-License-Identifier: MPL-2.0

// Package cueutil compiles user CUE (or JSON) documents against an embedded
// schema definition and decodes the result.
//
// The flow is always the same three steps:
//
//  1. Compile the embedded schema
//  2. Compile user data and unify with the schema definition
//  3. Validate and decode to a Go value
//
// Errors carry the offending field as a JSON-path style prefix, e.g.
//
//	idlsync.cue: remotes[1].branch: conflicting values "" and !=""
package cueutil
