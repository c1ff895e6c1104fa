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

// Command switchboard is the operational front door to the
// orchestration engine: execute prompts against configured tool
// servers, inspect capabilities, test connections and manage secrets.
package main

import (
	"fmt"
	"os"

	_ "github.com/tombee/switchboard/pkg/llm/providers"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	rootCmd := newRootCommand()

	rootCmd.AddCommand(newExecuteCommand())
	rootCmd.AddCommand(newToolsCommand())
	rootCmd.AddCommand(newTestCommand())
	rootCmd.AddCommand(newSessionsCommand())
	rootCmd.AddCommand(newSecretCommand())
	rootCmd.AddCommand(newVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
