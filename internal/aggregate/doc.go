// SPDX-License-Identifier: MPL-2.0

// Package aggregate merges per-source extraction results into a single
// filename -> file mapping and builds the provenance record published next
// to it.
//
// Resolution is deterministic and independent of fetch order: a fresh
// result beats a stale carry-over, then the lexically smaller source name
// wins, then the smaller original path. Every collision is reported; none is
// fatal here.
package aggregate
