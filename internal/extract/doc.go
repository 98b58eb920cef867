// SPDX-License-Identifier: MPL-2.0

// Package extract collects IDL files from a source's working copy and names
// them with a deterministic naming strategy.
//
// Extraction never interprets file content. A missing IDL directory yields
// zero files rather than an error, since a source may legitimately not
// publish anything yet.
package extract
