package extension

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vheckthor/goose-sub001/pkg/message"
)

// NameSeparator joins an extension name and a tool name into the prefixed
// name the model sees, e.g. "developer__shell".
const NameSeparator = "__"

// Platform tool names. These are served by the runtime itself, not by any
// extension, and are appended to the catalog after the prefixed tools.
const (
	ToolReadResource     = "read_resource"
	ToolListResources    = "list_resources"
	ToolSearchExtensions = "search_available_extensions"
	ToolEnableExtension  = "enable_extension"
)

// IsResourceTool reports whether name is one of the platform resource tools.
func IsResourceTool(name string) bool {
	return name == ToolReadResource || name == ToolListResources
}

// Resource is a named piece of extension state that can be surfaced to the
// model, either on demand via read_resource or automatically as status
// context.
type Resource struct {
	URI       string    `json:"uri"`
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Active    bool      `json:"active"`
}

// Info summarizes one registered extension.
type Info struct {
	Name         string `json:"name"`
	Instructions string `json:"instructions"`
	Enabled      bool   `json:"enabled"`
	HasResources bool   `json:"has_resources"`
}

// Extension bundles a set of tool handlers with optional instructions and
// resources under one name.
type Extension struct {
	Name         string
	Instructions string
	Handlers     []Handler
	Resources    []Resource
}

// Manager is the tool catalog the reply engine talks to. Implementations
// must be safe for concurrent use; auto mode dispatches tool calls from
// multiple goroutines.
type Manager interface {
	// GetPrefixedTools returns every tool of every enabled extension with
	// its name prefixed as extension__tool.
	GetPrefixedTools() []Tool

	// DispatchToolCall routes a prefixed call to its handler. Failures are
	// returned as *ToolError and become tool response content upstream.
	DispatchToolCall(ctx context.Context, call message.ToolCall) ([]message.Content, error)

	// ReadResource returns the content of one resource, looked up by uri
	// and optionally scoped by extension_name.
	ReadResource(ctx context.Context, args map[string]any) ([]message.Content, error)

	// ListResources lists resources across enabled extensions, optionally
	// scoped by extension_name.
	ListResources(ctx context.Context, args map[string]any) ([]message.Content, error)

	// SearchAvailableExtensions lists extensions that are registered but
	// currently disabled.
	SearchAvailableExtensions(ctx context.Context) ([]message.Content, error)

	// EnableExtension enables a registered extension so its tools join the
	// catalog from the next turn of the reply loop.
	EnableExtension(name string) error

	// DisableExtension removes an extension's tools from the catalog.
	DisableExtension(name string) error

	// GetExtensionsInfo describes every registered extension.
	GetExtensionsInfo() []Info

	// SupportsResources reports whether any enabled extension has resources.
	SupportsResources() bool

	// ActiveResources returns the active resources of enabled extensions,
	// newest first.
	ActiveResources() []Resource
}

// Registry is the in-memory Manager implementation.
type Registry struct {
	mu         sync.RWMutex
	extensions map[string]*Extension
	enabled    map[string]bool
	order      []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		extensions: map[string]*Extension{},
		enabled:    map[string]bool{},
	}
}

// Register adds an extension. Registering the same name again replaces it.
func (r *Registry) Register(ext *Extension, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.extensions[ext.Name]; !exists {
		r.order = append(r.order, ext.Name)
	}
	r.extensions[ext.Name] = ext
	r.enabled[ext.Name] = enabled
}

func (r *Registry) GetPrefixedTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var tools []Tool
	for _, name := range r.order {
		if !r.enabled[name] {
			continue
		}
		for _, h := range r.extensions[name].Handlers {
			tools = append(tools, Tool{
				Name:        name + NameSeparator + h.Name(),
				Description: h.Description(),
				InputSchema: h.InputSchema(),
			})
		}
	}
	return tools
}

func (r *Registry) DispatchToolCall(ctx context.Context, call message.ToolCall) ([]message.Content, error) {
	extName, toolName, ok := strings.Cut(call.Name, NameSeparator)
	if !ok {
		return nil, NotFoundError("tool name %q is not prefixed with an extension", call.Name)
	}

	r.mu.RLock()
	ext, exists := r.extensions[extName]
	enabled := r.enabled[extName]
	r.mu.RUnlock()

	if !exists || !enabled {
		return nil, NotFoundError("extension %q is not enabled", extName)
	}
	var handler Handler
	for _, h := range ext.Handlers {
		if h.Name() == toolName {
			handler = h
			break
		}
	}
	if handler == nil {
		return nil, NotFoundError("extension %q has no tool %q", extName, toolName)
	}

	content, err := handler.Execute(ctx, call.Arguments)
	if err != nil {
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			return nil, toolErr
		}
		return nil, ExecutionError(fmt.Sprintf("running %s", call.Name), err)
	}
	return content, nil
}

func (r *Registry) ReadResource(ctx context.Context, args map[string]any) ([]message.Content, error) {
	uri, _ := args["uri"].(string)
	if uri == "" {
		return nil, InvalidParametersError("read_resource requires a uri")
	}
	scope, _ := args["extension_name"].(string)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		if !r.enabled[name] || (scope != "" && name != scope) {
			continue
		}
		for _, res := range r.extensions[name].Resources {
			if res.URI == uri {
				return []message.Content{message.TextItem(res.Content)}, nil
			}
		}
	}
	if scope != "" {
		return nil, NotFoundError("resource %q not found in extension %q", uri, scope)
	}
	return nil, NotFoundError("resource %q not found in any enabled extension", uri)
}

func (r *Registry) ListResources(ctx context.Context, args map[string]any) ([]message.Content, error) {
	scope, _ := args["extension_name"].(string)

	r.mu.RLock()
	defer r.mu.RUnlock()
	var lines []string
	for _, name := range r.order {
		if !r.enabled[name] || (scope != "" && name != scope) {
			continue
		}
		for _, res := range r.extensions[name].Resources {
			lines = append(lines, fmt.Sprintf("%s - %s, uri: %s", res.Name, name, res.URI))
		}
	}
	if len(lines) == 0 {
		return []message.Content{message.TextItem("no resources available")}, nil
	}
	return []message.Content{message.TextItem(strings.Join(lines, "\n"))}, nil
}

func (r *Registry) SearchAvailableExtensions(ctx context.Context) ([]message.Content, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var lines []string
	for _, name := range r.order {
		if r.enabled[name] {
			continue
		}
		ext := r.extensions[name]
		line := fmt.Sprintf("- %s", name)
		if ext.Instructions != "" {
			line += ": " + ext.Instructions
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return []message.Content{message.TextItem("no additional extensions available")}, nil
	}
	text := "Extensions available to enable:\n" + strings.Join(lines, "\n")
	return []message.Content{message.TextItem(text)}, nil
}

func (r *Registry) EnableExtension(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.extensions[name]; !exists {
		return NotFoundError("unknown extension %q", name)
	}
	r.enabled[name] = true
	return nil
}

func (r *Registry) DisableExtension(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.extensions[name]; !exists {
		return NotFoundError("unknown extension %q", name)
	}
	r.enabled[name] = false
	return nil
}

func (r *Registry) GetExtensionsInfo() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(r.order))
	for _, name := range r.order {
		ext := r.extensions[name]
		infos = append(infos, Info{
			Name:         name,
			Instructions: ext.Instructions,
			Enabled:      r.enabled[name],
			HasResources: len(ext.Resources) > 0,
		})
	}
	return infos
}

func (r *Registry) SupportsResources() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		if r.enabled[name] && len(r.extensions[name].Resources) > 0 {
			return true
		}
	}
	return false
}

func (r *Registry) ActiveResources() []Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Resource
	for _, name := range r.order {
		if !r.enabled[name] {
			continue
		}
		for _, res := range r.extensions[name].Resources {
			if res.Active {
				out = append(out, res)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}
