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

// Package selector picks the single server to execute a prompt against.
// Classification is a ranked keyword table behind the Strategy
// interface so it can be swapped for a smarter classifier later.
package selector

import (
	"fmt"
	"strings"

	"github.com/tombee/switchboard/internal/discovery"
)

// Category is a prompt task classification.
type Category string

const (
	CategorySearch  Category = "search"
	CategoryFile    Category = "file"
	CategoryData    Category = "data"
	CategoryGeneric Category = "generic"
)

// Selection is the chosen server plus a human-readable reason.
type Selection struct {
	ServerName string
	Reason     string
}

// Strategy classifies a prompt into a task category.
type Strategy interface {
	Classify(prompt string) Category
}

// rule maps keywords to a category. Rules are evaluated in order; the
// first rule with a matching keyword wins.
type rule struct {
	category Category
	keywords []string
}

// KeywordStrategy classifies by case-insensitive substring matching
// against a fixed ordered rule table.
type KeywordStrategy struct {
	rules []rule
}

// NewKeywordStrategy returns the default ranked rule table.
func NewKeywordStrategy() *KeywordStrategy {
	return &KeywordStrategy{
		rules: []rule{
			{CategorySearch, []string{"search", "find", "look up", "lookup", "google", "web", "news", "latest"}},
			{CategoryFile, []string{"file", "document", "folder", "directory", "read", "write", "save", "open"}},
			{CategoryData, []string{"query", "database", "sql", "table", "record", "fetch", "data"}},
			{CategoryGeneric, []string{"help", "explain", "tell", "what", "how"}},
		},
	}
}

// Classify returns the first category whose keyword set matches the
// prompt, or the generic category when nothing matches.
func (k *KeywordStrategy) Classify(prompt string) Category {
	lower := strings.ToLower(prompt)
	for _, r := range k.rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.category
			}
		}
	}
	return CategoryGeneric
}

// preferences maps each category to server-name substrings in
// preference order.
var preferences = map[Category][]string{
	CategorySearch:  {"search", "web", "brave", "google"},
	CategoryFile:    {"file", "fs", "document", "drive"},
	CategoryData:    {"data", "db", "sql", "postgres", "sqlite"},
	CategoryGeneric: {},
}

// Selector chooses a server for a prompt from discovery results.
type Selector struct {
	strategy Strategy
}

// New creates a Selector. A nil strategy uses the keyword table.
func New(strategy Strategy) *Selector {
	if strategy == nil {
		strategy = NewKeywordStrategy()
	}
	return &Selector{strategy: strategy}
}

// Select picks the server to use. servers is the configured server
// names in configuration order; results holds the discovery outcome
// per name. Selection is deterministic: identical inputs always yield
// the identical selection.
func (s *Selector) Select(prompt string, servers []string, results map[string]discovery.Result) (Selection, error) {
	if len(servers) == 0 {
		return Selection{}, fmt.Errorf("no servers configured")
	}

	if len(servers) == 1 {
		return Selection{
			ServerName: servers[0],
			Reason:     "only configured server",
		}, nil
	}

	category := s.strategy.Classify(prompt)

	// Preferred name match first, in preference order.
	for _, substr := range preferences[category] {
		for _, name := range servers {
			if !strings.Contains(strings.ToLower(name), substr) {
				continue
			}
			if usable(results[name]) {
				return Selection{
					ServerName: name,
					Reason:     fmt.Sprintf("matched %s task to server %q", category, name),
				}, nil
			}
		}
	}

	// First usable server in configuration order.
	for _, name := range servers {
		if usable(results[name]) {
			return Selection{
				ServerName: name,
				Reason:     fmt.Sprintf("first available server for %s task", category),
			}, nil
		}
	}

	// Nothing usable: pick the first configured server anyway so
	// execution surfaces its connection error instead of silence.
	return Selection{
		ServerName: servers[0],
		Reason:     "no server available, falling back to first configured",
	}, nil
}

func usable(r discovery.Result) bool {
	return r.Available && r.ValidForExecution
}
