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

package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tombee/switchboard/internal/mcp"
	"github.com/tombee/switchboard/pkg/errors"
	"github.com/tombee/switchboard/pkg/llm"
)

// invalidNameChars matches everything outside the charset the model's
// function-calling interface accepts.
var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// normalizeName maps a tool name into [a-zA-Z0-9_-]. Deterministic, so
// the same server tool set always normalizes the same way.
func normalizeName(name string) string {
	normalized := invalidNameChars.ReplaceAllString(name, "_")
	if normalized == "" {
		normalized = "_"
	}
	return normalized
}

// toolEntry pairs an original tool definition with its compiled
// argument schema. A nil schema means the schema did not compile and
// arguments pass through unvalidated.
type toolEntry struct {
	def    mcp.ToolDefinition
	schema *jsonschema.Schema
}

// NameTable is the bidirectional mapping between model-facing
// (normalized) tool names and the server's original names.
type NameTable struct {
	byNormalized map[string]toolEntry
}

// BuildNameTable normalizes a server's tool set for the model. Name
// collisions after normalization are a configuration problem with the
// server's tool set and abort the request.
func BuildNameTable(tools []mcp.ToolDefinition) (*NameTable, []llm.Tool, error) {
	table := &NameTable{byNormalized: make(map[string]toolEntry, len(tools))}
	modelTools := make([]llm.Tool, 0, len(tools))

	for _, def := range tools {
		normalized := normalizeName(def.Name)

		if prev, exists := table.byNormalized[normalized]; exists {
			return nil, nil, &errors.ConfigurationError{
				Key:    "tools",
				Reason: fmt.Sprintf("tool names %q and %q collide after normalization to %q", prev.def.Name, def.Name, normalized),
			}
		}

		table.byNormalized[normalized] = toolEntry{
			def:    def,
			schema: compileSchema(def.Name, def.InputSchema),
		}

		modelTools = append(modelTools, llm.Tool{
			Name:        normalized,
			Description: def.Description,
			InputSchema: schemaAsMap(def.InputSchema),
		})
	}

	return table, modelTools, nil
}

// Denormalize resolves a model-facing name back to the original tool
// definition.
func (t *NameTable) Denormalize(normalized string) (mcp.ToolDefinition, bool) {
	entry, ok := t.byNormalized[normalized]
	return entry.def, ok
}

// ValidateArguments checks a model-provided arguments object against
// the tool's declared input schema. Tools without a usable schema
// accept anything.
func (t *NameTable) ValidateArguments(normalized, arguments string) error {
	entry, ok := t.byNormalized[normalized]
	if !ok || entry.schema == nil {
		return nil
	}

	var value any
	if err := json.Unmarshal([]byte(arguments), &value); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}

	if err := entry.schema.Validate(value); err != nil {
		return fmt.Errorf("arguments do not match tool schema: %w", err)
	}
	return nil
}

// compileSchema compiles a tool's input schema for argument
// validation. Servers ship schemas of wildly varying quality; a schema
// that does not compile is ignored rather than blocking the tool.
func compileSchema(name string, raw json.RawMessage) *jsonschema.Schema {
	if len(raw) == 0 {
		return nil
	}

	compiler := jsonschema.NewCompiler()
	resource := fmt.Sprintf("tool://%s/input", normalizeName(name))
	if err := compiler.AddResource(resource, bytes.NewReader(raw)); err != nil {
		return nil
	}

	schema, err := compiler.Compile(resource)
	if err != nil {
		return nil
	}
	return schema
}

// schemaAsMap converts the raw schema for the model request, falling
// back to a permissive object schema.
func schemaAsMap(raw json.RawMessage) map[string]interface{} {
	if len(raw) > 0 {
		var m map[string]interface{}
		if err := json.Unmarshal(raw, &m); err == nil {
			if _, ok := m["type"]; !ok {
				m["type"] = "object"
			}
			return m
		}
	}
	return map[string]interface{}{"type": "object"}
}

// describeTools renders a short tool inventory for logging.
func describeTools(tools []llm.Tool) string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return strings.Join(names, ",")
}
