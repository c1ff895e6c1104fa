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

package selector

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tombee/switchboard/internal/discovery"
)

func available(names ...string) map[string]discovery.Result {
	out := make(map[string]discovery.Result, len(names))
	for _, n := range names {
		out[n] = discovery.Result{Server: n, Available: true, ValidForExecution: true}
	}
	return out
}

func TestClassify(t *testing.T) {
	strategy := NewKeywordStrategy()

	tests := []struct {
		prompt string
		want   Category
	}{
		{"search for the latest Go release", CategorySearch},
		{"Find me a restaurant nearby", CategorySearch},
		{"read the file config.yaml", CategoryFile},
		{"save this document", CategoryFile},
		{"query the orders table", CategoryData},
		{"help me understand this", CategoryGeneric},
		{"bonjour", CategoryGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.prompt, func(t *testing.T) {
			require.Equal(t, tt.want, strategy.Classify(tt.prompt))
		})
	}
}

func TestClassify_FirstRuleWins(t *testing.T) {
	// "search" outranks "file" in the rule table
	strategy := NewKeywordStrategy()
	require.Equal(t, CategorySearch, strategy.Classify("search for a file"))
}

func TestSelect_SingleServerUnconditional(t *testing.T) {
	s := New(nil)

	// Even an unavailable lone server is selected so its connection
	// error reaches the caller.
	sel, err := s.Select("anything", []string{"files"}, map[string]discovery.Result{
		"files": {Server: "files"},
	})
	require.NoError(t, err)
	require.Equal(t, "files", sel.ServerName)
	require.Equal(t, "only configured server", sel.Reason)
}

func TestSelect_SearchPromptPicksSearchServer(t *testing.T) {
	s := New(nil)
	servers := []string{"files", "web-search"}

	sel, err := s.Select("search for X", servers, available("files", "web-search"))
	require.NoError(t, err)
	require.Equal(t, "web-search", sel.ServerName)
	require.Contains(t, sel.Reason, "web-search")
}

func TestSelect_PreferredUnavailableFallsBack(t *testing.T) {
	s := New(nil)
	servers := []string{"files", "web-search"}
	results := map[string]discovery.Result{
		"files":      {Server: "files", Available: true, ValidForExecution: true},
		"web-search": {Server: "web-search"},
	}

	sel, err := s.Select("search for X", servers, results)
	require.NoError(t, err)
	require.Equal(t, "files", sel.ServerName)
}

func TestSelect_NoneAvailablePicksFirstConfigured(t *testing.T) {
	s := New(nil)
	servers := []string{"alpha", "beta"}
	results := map[string]discovery.Result{
		"alpha": {Server: "alpha"},
		"beta":  {Server: "beta"},
	}

	sel, err := s.Select("hello", servers, results)
	require.NoError(t, err)
	require.Equal(t, "alpha", sel.ServerName)
	require.Contains(t, sel.Reason, "no server available")
}

func TestSelect_NoServers(t *testing.T) {
	s := New(nil)
	_, err := s.Select("hello", nil, nil)
	require.Error(t, err)
}

func TestSelect_Deterministic(t *testing.T) {
	s := New(nil)
	servers := []string{"files", "db", "web-search"}
	results := available("files", "db", "web-search")

	first, err := s.Select("query the database", servers, results)
	require.NoError(t, err)

	for range 10 {
		again, err := s.Select("query the database", servers, results)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}
