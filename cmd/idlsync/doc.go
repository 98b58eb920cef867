// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the idlsync command-line interface.
//
// The command tree is built per invocation from an App, which holds the
// configuration provider, the engine factory and the output streams. Commands
// report failures themselves and return an ExitError carrying the process
// exit code.
package cmd
