// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue/errors"
)

// FormatError rewrites a CUE error into one line per problem, each naming
// the document and the offending field in JSON-path notation:
//
//	<file>: <field path>: <message>
//
// For example:
//   - idlsync.cue: remotes[0].repository: incomplete value string
//   - idlsync.cue: maxConcurrency: invalid value 0 (out of bound >=1)
//
// A single problem yields a single line. Several problems are listed under
// "<file>: validation failed:". Errors that carry no CUE detail are wrapped
// with the filename only. A nil err returns nil.
func FormatError(err error, filePath string) error {
	if err == nil {
		return nil
	}

	cueErrors := errors.Errors(err)
	if len(cueErrors) == 0 {
		return fmt.Errorf("%s: %w", filePath, err)
	}

	lines := make([]string, 0, len(cueErrors))
	for _, e := range cueErrors {
		lines = append(lines, describe(e))
	}

	if len(lines) == 1 {
		return fmt.Errorf("%s: %s", filePath, lines[0])
	}
	return fmt.Errorf("%s: validation failed:\n  %s", filePath, strings.Join(lines, "\n  "))
}

// describe renders one CUE error as "<field path>: <message>", or just the
// message when the error is not tied to a field.
func describe(e errors.Error) string {
	field := formatPath(errors.Path(e))
	msg := e.Error()
	if field == "" {
		return msg
	}
	// CUE sometimes repeats the path at the start of the message
	if rest, found := strings.CutPrefix(msg, field); found {
		msg = strings.TrimSpace(strings.TrimPrefix(rest, ":"))
	}
	return field + ": " + msg
}

// formatPath joins the selectors of a CUE error path. CUE reports list
// positions as plain numeric selectors, so ["remotes", "0", "branch"]
// becomes "remotes[0].branch". A leading numeric selector stays as is.
func formatPath(path []string) string {
	var result strings.Builder
	for i, part := range path {
		switch {
		case i > 0 && isIndex(part):
			result.WriteString("[" + part + "]")
		case i > 0:
			result.WriteString("." + part)
		default:
			result.WriteString(part)
		}
	}
	return result.String()
}

// isIndex reports whether a path selector is a list position.
func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// CheckFileSize rejects documents larger than maxSize bytes. ParseAndDecode
// calls it before compiling anything.
func CheckFileSize(data []byte, maxSize int64, filename string) error {
	if int64(len(data)) > maxSize {
		return fmt.Errorf("%s: file size %d bytes exceeds maximum %d bytes",
			filename, len(data), maxSize)
	}
	return nil
}
