// Copyright 2026 The Hippocamp Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/hippocamp/matrix-actions/lib/ref"
	"github.com/hippocamp/matrix-actions/lib/secret"
	"github.com/hippocamp/matrix-actions/lib/vault"
)

// runProvision interactively collects the bot credentials and stores
// them as a 1Password login item. Existing items with the same title
// are edited in place.
func runProvision(args []string) error {
	flags := pflag.NewFlagSet("provision", pflag.ContinueOnError)
	vaultName := flags.String("vault", "Private", "1Password vault to store the item in")
	itemTitle := flags.String("item", "Matrix Actions Bot", "1Password item title")
	if err := flags.Parse(args); err != nil {
		return err
	}

	reader := bufio.NewReader(os.Stdin)

	homeserver, err := prompt(reader, "Homeserver URL", "https://matrix.hippocamp.ai")
	if err != nil {
		return err
	}
	rawUserID, err := prompt(reader, "Bot user ID", "")
	if err != nil {
		return err
	}
	userID, err := ref.ParseUserID(rawUserID)
	if err != nil {
		return fmt.Errorf("invalid user ID: %w", err)
	}
	deviceID, err := prompt(reader, "Device ID", "GABE_ACTIONS_DEVICE")
	if err != nil {
		return err
	}
	deviceName, err := prompt(reader, "Device name", "Gabe Matrix Actions Bridge")
	if err != nil {
		return err
	}

	password, err := promptPassword()
	if err != nil {
		return err
	}
	defer password.Close()

	cli := vault.CLI{Path: opCLIPath()}
	fields := []string{
		vault.TextField("username", userID.String()),
		vault.ConcealedField("password", password.String()),
		vault.TextField("homeserver", homeserver),
		vault.TextField("device_id", deviceID),
		vault.TextField("device_name", deviceName),
	}
	if err := cli.UpsertItem(context.Background(), *vaultName, *itemTitle, fields); err != nil {
		return err
	}

	fmt.Printf("Stored credentials for %s in vault %q.\n", userID, *vaultName)
	fmt.Printf("Point the bridge at them with:\n")
	fmt.Printf("  OP_MATRIX_PASSWORD_PATH=op://%s/%s/password\n", *vaultName, *itemTitle)
	return nil
}

// prompt reads one line, returning the default when the operator just
// presses enter.
func prompt(reader *bufio.Reader, label, defaultValue string) (string, error) {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", label, defaultValue)
	} else {
		fmt.Printf("%s: ", label)
	}

	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	value := strings.TrimSpace(line)
	if value == "" {
		if defaultValue == "" {
			return "", fmt.Errorf("%s is required", label)
		}
		return defaultValue, nil
	}
	return value, nil
}

// promptPassword reads the password twice with terminal echo disabled
// and moves it into protected memory.
func promptPassword() (*secret.Buffer, error) {
	fmt.Print("Bot password: ")
	first, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	if len(first) == 0 {
		return nil, fmt.Errorf("password must not be empty")
	}

	fmt.Print("Confirm password: ")
	confirmation, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		secret.Zero(first)
		return nil, fmt.Errorf("reading confirmation: %w", err)
	}

	if string(first) != string(confirmation) {
		secret.Zero(first)
		secret.Zero(confirmation)
		return nil, fmt.Errorf("passwords do not match")
	}
	secret.Zero(confirmation)

	return secret.NewFromBytes(first)
}
