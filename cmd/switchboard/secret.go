// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tombee/switchboard/internal/secrets"
)

var (
	flagSecretBackend string
	flagSecretUnmask  bool
)

func newSecretCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage provider API keys",
		Long: `Store and retrieve secrets across the backend chain: environment
variables (read-only), the OS keychain, and an encrypted file.

Keys are slash paths, e.g. llm/anthropic/api_key.`,
	}

	setCmd := &cobra.Command{
		Use:   "set <key>",
		Short: "Store a secret",
		Long: `Store a secret. The value is read from a hidden interactive prompt,
or from stdin when piped:

  switchboard secret set llm/anthropic/api_key
  echo "sk-..." | switchboard secret set llm/anthropic/api_key`,
		Args: cobra.ExactArgs(1),
		RunE: runSecretSet,
	}
	setCmd.Flags().StringVar(&flagSecretBackend, "backend", "", "Target backend (keychain, file)")

	getCmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Retrieve a secret (masked by default)",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretGet,
	}
	getCmd.Flags().BoolVar(&flagSecretUnmask, "unmask", false, "Show the full value")

	deleteCmd := &cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a secret from writable backends",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretDelete,
	}

	cmd.AddCommand(setCmd, getCmd, deleteCmd)
	return cmd
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	if strings.Contains(key, " ") {
		return errors.New("secret key cannot contain spaces")
	}

	value, err := readSecretValue()
	if err != nil {
		return fmt.Errorf("failed to read secret value: %w", err)
	}
	if value == "" {
		return errors.New("secret value cannot be empty")
	}

	resolver := secrets.DefaultResolver()
	if err := resolver.Set(cmd.Context(), key, value, flagSecretBackend); err != nil {
		return fmt.Errorf("failed to store secret: %w", err)
	}

	cmd.Println("Secret stored")
	return nil
}

func runSecretGet(cmd *cobra.Command, args []string) error {
	resolver := secrets.DefaultResolver()

	value, err := resolver.Get(cmd.Context(), args[0])
	if err != nil {
		if errors.Is(err, secrets.ErrNotFound) {
			return fmt.Errorf("secret not found: %q\n\nSet it with: switchboard secret set %s", args[0], args[0])
		}
		return err
	}

	if flagSecretUnmask {
		cmd.Println(value)
	} else {
		cmd.Printf("%s (use --unmask to show the full value)\n", maskSecret(value))
	}
	return nil
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	resolver := secrets.DefaultResolver()

	if err := resolver.Delete(cmd.Context(), args[0]); err != nil {
		if errors.Is(err, secrets.ErrNotFound) {
			return fmt.Errorf("secret not found: %q", args[0])
		}
		return err
	}

	cmd.Printf("Secret %q deleted\n", args[0])
	return nil
}

// readSecretValue reads the value from piped stdin, or prompts without
// echo on a terminal.
func readSecretValue() (string, error) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return "", err
	}

	if stat.Mode()&os.ModeCharDevice == 0 {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}

	fmt.Print("Enter secret value (hidden): ")
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:4] + "..." + value[len(value)-4:]
}
