// Copyright 2026 The Hippocamp Authors
// SPDX-License-Identifier: Apache-2.0

// actions-credentials is the operator tool for the bot account's
// 1Password credentials. It never runs in the bridge's serving path.
//
// Usage:
//
//	actions-credentials provision   interactively store bot credentials
//	actions-credentials check       verify CLI sign-in and stored secrets
//	actions-credentials version     print version information
package main

import (
	"fmt"
	"os"

	"github.com/hippocamp/matrix-actions/lib/process"
	"github.com/hippocamp/matrix-actions/lib/version"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "provision":
		err = runProvision(os.Args[2:])
	case "check":
		err = runCheck(os.Args[2:])
	case "version":
		fmt.Println(version.Full())
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		process.Fatal(err)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Manage the Matrix actions bridge bot credentials in 1Password.

Commands:
  provision   interactively prompt for credentials and store them
  check       verify the 1Password CLI session and stored secrets
  version     print version information

The 1Password CLI executable is taken from OP_CLI_PATH (default "op").
`)
}

func opCLIPath() string {
	if path := os.Getenv("OP_CLI_PATH"); path != "" {
		return path
	}
	return "op"
}
