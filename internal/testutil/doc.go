// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helpers shared by idlsync tests: git fixture
// clusters (contributing remotes plus a bare upstream, laid out like a real
// deployment), a controllable clock, and Must* wrappers that fail the test
// instead of returning errors.
package testutil
