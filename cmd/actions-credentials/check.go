// Copyright 2026 The Hippocamp Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/hippocamp/matrix-actions/lib/vault"
	"github.com/hippocamp/matrix-actions/messaging"
)

// runCheck verifies the credential plumbing without changing anything:
// CLI sign-in, password reference resolution, and optionally homeserver
// reachability. Secret values are never printed.
func runCheck(args []string) error {
	flags := pflag.NewFlagSet("check", pflag.ContinueOnError)
	reference := flags.String("reference", os.Getenv("OP_MATRIX_PASSWORD_PATH"),
		"op secret reference to resolve (default from OP_MATRIX_PASSWORD_PATH)")
	homeserver := flags.String("homeserver", "", "probe this homeserver's client API")
	if err := flags.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cli := vault.CLI{Path: opCLIPath()}
	account, err := cli.WhoAmI(ctx)
	if err != nil {
		return fmt.Errorf("1Password CLI session: %w", err)
	}
	fmt.Printf("1Password CLI signed in:\n%s\n\n", account)

	if *reference == "" {
		fmt.Println("OP_MATRIX_PASSWORD_PATH is not set; skipping secret resolution.")
	} else {
		buffer, err := cli.Read(ctx, *reference)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", *reference, err)
		}
		if buffer == nil {
			return fmt.Errorf("%s resolved to an empty value", *reference)
		}
		fmt.Printf("%s resolved (%d bytes).\n", *reference, buffer.Len())
		buffer.Close()
	}

	if *homeserver != "" {
		client, err := messaging.NewClient(messaging.ClientConfig{HomeserverURL: *homeserver})
		if err != nil {
			return err
		}
		defer client.CloseIdleConnections()

		versions, err := client.ServerVersions(ctx)
		if err != nil {
			return fmt.Errorf("probing %s: %w", *homeserver, err)
		}
		fmt.Printf("%s is reachable, %d spec versions advertised.\n", *homeserver, len(versions.Versions))
	}

	fmt.Println("\nAll checks passed.")
	return nil
}
