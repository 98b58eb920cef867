// SPDX-License-Identifier: MPL-2.0

// Package cache keeps one local working copy per remote source under a cache
// root, reused across runs so that a re-sync fetches instead of re-cloning.
//
// Each copy lives in <root>/<source name>. A copy is only ever written by one
// Ensure call at a time; copies of different sources are independent. Fresh
// clones are made in a hidden sibling directory and renamed into place, so an
// interrupted clone never leaves a half-populated copy behind.
package cache
