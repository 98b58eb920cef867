// SPDX-License-Identifier: MPL-2.0

// Package engine runs one synchronization: refresh every source's cached
// working copy, extract its IDL files, aggregate them and publish the result.
//
// A run moves through INIT, CACHE_READY, EXTRACTED, AGGREGATED and PUBLISHED,
// or ends in FAILED at any of them. Per-source problems are collected in the
// Report and never abort the run on their own; only stage-level conditions
// (no sources, nothing fetched, an unusable repository folder, a publish
// failure, cancellation) do.
package engine
