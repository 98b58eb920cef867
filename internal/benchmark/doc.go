// SPDX-License-Identifier: MPL-2.0

// Package benchmark provides benchmarks for the hot paths of a sync run:
//   - CUE configuration loading and schema validation
//   - IDL file extraction from a working copy
//   - aggregation with collision detection
//   - meta.json rendering
//
// Run them with:
//
//	go test -run '^$' -bench . ./internal/benchmark/
package benchmark
