// SPDX-License-Identifier: MPL-2.0

// Package git is the version-control gateway: it runs the git command line
// client against a working directory and surfaces failures as typed errors
// carrying git's captured output.
//
// Runner is the capability consumed by the rest of idlsync; CLI is the
// production implementation and Repo layers typed operations (clone, fetch,
// commit, push, ...) on top of any Runner so tests can substitute a fake.
package git
