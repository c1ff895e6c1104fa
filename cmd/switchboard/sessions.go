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

func newSessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage pooled tool-server sessions",
		Long: `Manage pooled tool-server sessions.

The pool lives inside a single switchboard process. These commands act
on the pool of the invocation they run in, so a fresh CLI process
starts with an empty pool; they are mainly useful against a process
that has been executing prompts.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Disconnect every session belonging to the session id in this process's pool",
		Args:  cobra.NoArgs,
		RunE:  runSessionsClear,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show this process's pooled session counts by state",
		Args:  cobra.NoArgs,
		RunE:  runSessionsStats,
	})

	return cmd
}

func runSessionsClear(cmd *cobra.Command, args []string) error {
	app, err := newApp(false)
	if err != nil {
		return err
	}
	defer app.close()

	count := app.engine.Disconnect(cmd.Context(), flagSessionID)
	cmd.Printf("Disconnected %d session(s)\n", count)
	return nil
}

func runSessionsStats(cmd *cobra.Command, args []string) error {
	app, err := newApp(false)
	if err != nil {
		return err
	}
	defer app.close()

	stats := app.pool.Stats()
	if flagJSON {
		out, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(out))
		return nil
	}

	if len(stats) == 0 {
		cmd.Println("No pooled sessions")
		return nil
	}
	for state, count := range stats {
		cmd.Printf("  %-12s %d\n", state, count)
	}
	return nil
}
