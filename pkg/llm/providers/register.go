package providers

import (
	"github.com/tombee/switchboard/pkg/llm"
)

// init registers provider factories with the global registry. Actual
// provider instances are created at startup via llm.Activate, once
// configuration and credentials are known.
func init() {
	llm.RegisterFactory("anthropic", func(credential string) (llm.Provider, error) {
		return NewAnthropicProvider(credential)
	})

	llm.RegisterFactory("ollama", func(credential string) (llm.Provider, error) {
		// Ollama needs no authentication; the credential slot carries
		// an optional base URL override.
		return NewOllamaProvider(credential)
	})
}
