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

	"github.com/spf13/cobra"
)

func newToolsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tools <server>",
		Short: "List the tools and resources a server advertises",
		Long: `Connect to a configured server (reusing the pooled session) and print
its advertised tools and resources.

Examples:
  switchboard tools web-search
  switchboard tools web-search --json`,
		Args: cobra.ExactArgs(1),
		RunE: runTools,
	}
}

func runTools(cmd *cobra.Command, args []string) error {
	app, err := newApp(false)
	if err != nil {
		return err
	}
	defer app.close()

	desc, err := app.config().Descriptor(args[0])
	if err != nil {
		return err
	}

	caps, err := app.engine.ListTools(cmd.Context(), flagSessionID, "", desc)
	if err != nil {
		return err
	}

	if flagJSON {
		out, err := json.MarshalIndent(caps, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(out))
		return nil
	}

	cmd.Printf("Server %s: %d tool(s), %d resource(s)\n", caps.Server, len(caps.Tools), len(caps.Resources))
	for _, tool := range caps.Tools {
		cmd.Printf("  %-30s %s\n", tool.Name, tool.Description)
	}
	for _, res := range caps.Resources {
		cmd.Printf("  %-30s %s\n", res.URI, res.Description)
	}

	return nil
}
