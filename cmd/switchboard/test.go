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

	"github.com/spf13/cobra"
)

func newTestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "test <server>",
		Short: "Test the connection to a configured server",
		Long: `Spawn a throwaway connection to a server, probe its capabilities and
tear it down again. Pooled sessions are not touched.

Examples:
  switchboard test web-search`,
		Args: cobra.ExactArgs(1),
		RunE: runTest,
	}
}

func runTest(cmd *cobra.Command, args []string) error {
	app, err := newApp(false)
	if err != nil {
		return err
	}
	defer app.close()

	desc, err := app.config().Descriptor(args[0])
	if err != nil {
		return err
	}

	result := app.engine.TestConnection(cmd.Context(), desc)

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

	cmd.Printf("Server %s: connected\n", desc.Name)
	cmd.Printf("  tools:     %d\n", result.ToolsCount)
	cmd.Printf("  resources: %d\n", result.ResourcesCount)
	cmd.Printf("  ping:      %v\n", result.PingOK)
	if result.Error != "" {
		cmd.Printf("  note:      %s\n", result.Error)
	}

	return nil
}
