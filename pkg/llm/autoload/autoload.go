// Package autoload registers every built-in LLM provider factory. Import
// it for side effects from the binary entry point.
package autoload

import (
	_ "talos/pkg/llm/gemini"
	_ "talos/pkg/llm/ollama"
	_ "talos/pkg/llm/openailm"
)
