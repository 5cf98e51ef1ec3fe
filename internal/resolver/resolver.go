// Package resolver turns a validated Task into an executable name and
// argument vector. A registry keyed by tool name holds a fixed set of
// builtin resolvers plus any plugin-registered resolvers, so plugins
// can register for arbitrary tool keys and win over the builtins.
package resolver

import (
	"fmt"
	"strings"
	"sync"

	"github.com/opsqueue/queueworker/internal/task"
)

// Command is the resolved executable plus argument vector.
type Command struct {
	Executable string
	Arguments  []string
}

// Resolver turns a task and its (possibly empty) prompt file path into a
// Command. Builtins and plugins both implement this.
type Resolver interface {
	ResolveCommand(t *task.Task, promptFile string) (Command, error)
}

// ResolverFunc adapts a plain function to the Resolver interface.
type ResolverFunc func(t *task.Task, promptFile string) (Command, error)

func (f ResolverFunc) ResolveCommand(t *task.Task, promptFile string) (Command, error) {
	return f(t, promptFile)
}

// Registry holds the builtin resolvers plus any plugin-registered
// resolvers, keyed by lowercased tool name. A plugin registered for tool
// key X always wins over the builtin for X.
type Registry struct {
	mu       sync.RWMutex
	builtins map[string]Resolver
	plugins  map[string]Resolver
	fallback Resolver
}

// NewRegistry creates a Registry pre-populated with the built-in resolvers
// for aider, codex, claude, and the version-control tool, plus the
// fallback resolver used for anything else.
func NewRegistry() *Registry {
	r := &Registry{
		builtins: make(map[string]Resolver),
		plugins:  make(map[string]Resolver),
		fallback: ResolverFunc(resolveFallback),
	}
	for _, name := range []string{"aider", "codex", "claude"} {
		r.builtins[name] = ResolverFunc(resolveAITool(name))
	}
	r.builtins["git"] = ResolverFunc(resolveGit)
	return r
}

// RegisterPlugin registers a plugin resolver for tool, overriding any
// builtin for the same key.
func (r *Registry) RegisterPlugin(tool string, res Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[strings.ToLower(tool)] = res
}

// Resolve looks up the resolver for task.Tool (plugin first, then builtin,
// then fallback) and resolves the command.
func (r *Registry) Resolve(t *task.Task, promptFile string) (Command, error) {
	r.mu.RLock()
	res, ok := r.plugins[t.Tool]
	if !ok {
		res, ok = r.builtins[t.Tool]
	}
	fallback := r.fallback
	r.mu.RUnlock()

	if !ok {
		res = fallback
	}

	cmd, err := res.ResolveCommand(t, promptFile)
	if err != nil {
		return Command{}, fmt.Errorf("resolving command for tool %q: %w", t.Tool, err)
	}
	return cmd, nil
}
