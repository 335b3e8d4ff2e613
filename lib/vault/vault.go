// Copyright 2026 The Hippocamp Authors
// SPDX-License-Identifier: Apache-2.0

// Package vault wraps the 1Password command-line tool. The bridge uses
// it to resolve the bot password when the environment does not provide
// one; the operator tool uses it to provision and verify stored
// credentials.
//
// Every call spawns the external executable synchronously. The bridge
// only reaches this path inside the Session Gate's serialized login
// section, so a slow CLI blocks at most the callers already waiting on
// authentication.
package vault

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/hippocamp/matrix-actions/lib/secret"
)

// CLI invokes a 1Password-compatible command-line executable.
type CLI struct {
	// Path is the executable name or path. Defaults to "op" when empty.
	Path string
}

func (c CLI) path() string {
	if c.Path == "" {
		return "op"
	}
	return c.Path
}

// run executes the CLI with the given arguments, returning trimmed
// stdout. A missing executable or a non-zero exit is returned as an
// error carrying the captured stderr text for diagnosis.
func (c CLI) run(ctx context.Context, args ...string) (string, error) {
	command := exec.CommandContext(ctx, c.path(), args...)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("1Password CLI %q not found in PATH", c.path())
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("1Password CLI %s failed: %s", args[0], detail)
	}

	return strings.TrimSpace(stdout.String()), nil
}

// Read resolves a secret reference (e.g., "op://vault/item/password")
// via "op read". The secret is moved into an mmap-backed buffer that
// the caller must Close.
//
// A zero exit with empty trimmed output returns (nil, nil): the
// reference resolved to nothing, and the caller decides whether that
// is fatal. Secret values never appear in returned errors.
func (c CLI) Read(ctx context.Context, reference string) (*secret.Buffer, error) {
	if reference == "" {
		return nil, fmt.Errorf("secret reference is empty")
	}

	output, err := c.run(ctx, "read", reference)
	if err != nil {
		return nil, err
	}
	if output == "" {
		return nil, nil
	}

	// NewFromBytes zeros the transient heap copy.
	buffer, err := secret.NewFromBytes([]byte(output))
	if err != nil {
		return nil, fmt.Errorf("protecting secret from %s: %w", reference, err)
	}
	return buffer, nil
}

// WhoAmI reports the signed-in account via "op whoami". Returns an
// error when the CLI is missing or no session is active.
func (c CLI) WhoAmI(ctx context.Context) (string, error) {
	return c.run(ctx, "whoami")
}

// ItemExists reports whether an item with the given title exists in
// the vault. A lookup failure other than "not found" is returned as an
// error so sign-in problems are not mistaken for absent items.
func (c CLI) ItemExists(ctx context.Context, vaultName, title string) (bool, error) {
	_, err := c.run(ctx, "item", "get", title, "--vault", vaultName)
	if err == nil {
		return true, nil
	}
	if strings.Contains(err.Error(), "isn't an item") || strings.Contains(err.Error(), "not found") {
		return false, nil
	}
	return false, err
}

// UpsertItem creates a login item, or edits it in place when an item
// with the same title already exists. Fields use the CLI's assignment
// syntax ("password[concealed]=..."); callers build them with
// ConcealedField and TextField.
func (c CLI) UpsertItem(ctx context.Context, vaultName, title string, fields []string) error {
	exists, err := c.ItemExists(ctx, vaultName, title)
	if err != nil {
		return err
	}

	var args []string
	if exists {
		args = append([]string{"item", "edit", title, "--vault", vaultName}, fields...)
	} else {
		args = append([]string{"item", "create", "--category", "login", "--title", title, "--vault", vaultName}, fields...)
	}

	_, err = c.run(ctx, args...)
	return err
}

// ConcealedField formats a concealed (password-type) field assignment.
func ConcealedField(name, value string) string {
	return fmt.Sprintf("%s[concealed]=%s", name, value)
}

// TextField formats a plain text field assignment.
func TextField(name, value string) string {
	return fmt.Sprintf("%s[text]=%s", name, value)
}
