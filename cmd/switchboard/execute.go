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
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/switchboard/internal/engine"
	"github.com/tombee/switchboard/internal/mcp"
)

var flagServers []string

func newExecuteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execute <prompt>",
		Short: "Execute a prompt against the configured tool servers",
		Long: `Execute a prompt. When more than one server is configured (or given
via --server), switchboard discovers their capabilities and selects the
best match for the prompt.

Examples:
  switchboard execute "search for the latest Go release"
  switchboard execute --server web-search "find recent news about MCP"
  switchboard execute --json "list the files in my notes"`,
		Args: cobra.MinimumNArgs(1),
		RunE: runExecute,
	}

	cmd.Flags().StringArrayVar(&flagServers, "server", nil, "Restrict to named servers (repeatable)")

	return cmd
}

func runExecute(cmd *cobra.Command, args []string) error {
	app, err := newApp(true)
	if err != nil {
		return err
	}
	defer app.close()

	descriptors, err := resolveDescriptors(app, flagServers)
	if err != nil {
		return err
	}

	result := app.engine.Execute(cmd.Context(), engine.ExecuteRequest{
		SessionID: flagSessionID,
		Prompt:    strings.Join(args, " "),
		Servers:   descriptors,
	})

	if flagJSON {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(out))
		if !result.Success {
			return errors.New(result.Error)
		}
		return nil
	}

	if !result.Success {
		return errors.New(result.Error)
	}

	cmd.Println(result.Response)
	if len(result.ToolsUsed) > 0 {
		cmd.Println()
		cmd.Printf("Server: %s (%s)\n", result.Server, result.SelectionReason)
		for _, use := range result.ToolsUsed {
			status := "ok"
			if use.IsError {
				status = "error"
			}
			cmd.Printf("  tool %s [%s] %dms\n", use.Tool, status, use.Duration.Milliseconds())
		}
	}

	return nil
}

// resolveDescriptors returns the configured descriptors, optionally
// restricted to the named subset in the given order.
func resolveDescriptors(app *app, names []string) ([]mcp.ServerDescriptor, error) {
	if len(names) == 0 {
		descs := app.config().Descriptors()
		if len(descs) == 0 {
			return nil, errors.New("no servers configured (add entries to config.yaml)")
		}
		return descs, nil
	}

	descs := make([]mcp.ServerDescriptor, 0, len(names))
	for _, name := range names {
		desc, err := app.config().Descriptor(name)
		if err != nil {
			return nil, fmt.Errorf("unknown server %q: %w", name, err)
		}
		descs = append(descs, desc)
	}
	return descs, nil
}
