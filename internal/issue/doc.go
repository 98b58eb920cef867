// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable error handling with user-friendly messages.
//
// ActionableError carries the failed operation, the resource involved and
// remediation hints; the catalog maps sync failure classes to Markdown help
// rendered with glamour by the CLI.
package issue
