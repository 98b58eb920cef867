// SPDX-License-Identifier: MPL-2.0

// Command idlsync aggregates IDL files from many git repositories into one.
package main

import cmd "github.com/idlsync/idlsync/cmd/idlsync"

func main() {
	cmd.Execute()
}
