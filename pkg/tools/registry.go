package tools

import (
	"sync"

	"talos/pkg/api"
)

// Registry is the central inventory of tools available to the agent.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]api.Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]api.Tool)}
}

// Register adds a tool, replacing any previous tool with the same name.
func (r *Registry) Register(tool api.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (api.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// GetAll returns all registered tools.
func (r *Registry) GetAll() []api.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]api.Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	return tools
}
