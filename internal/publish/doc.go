// SPDX-License-Identifier: MPL-2.0

// Package publish writes an aggregation result into the working repository,
// commits it and pushes it to the upstream.
//
// Only one publication runs at a time: publishers serialize on an in-process
// mutex and, on Linux, on an exclusive flock of "<repository>.lock" shared by
// every idlsync process. Before writing, the working repository is reset to
// the upstream branch, so a run that failed after staging or after committing
// leaves nothing that blocks the next one.
package publish
