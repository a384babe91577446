// Package basic decides which tools a deployment exposes to the model using
// optional allow and block lists of tool names and toolsets.
package basic

import (
	"strings"

	"github.com/assistant0/assistant0/runtime/agent/tools"
)

// Options configures the engine. Block lists win over allow lists, and an
// explicit tool allow list takes precedence over the toolset allow list.
type Options struct {
	// AllowToolsets restricts tools to these toolsets. Empty means no filter.
	AllowToolsets []string
	// BlockToolsets excludes every tool of these toolsets.
	BlockToolsets []string
	// AllowTools explicitly allowlists tool names.
	AllowTools []string
	// BlockTools explicitly blocks tool names.
	BlockTools []string
}

// Engine filters tools by name and toolset.
type Engine struct {
	allowToolsets map[string]struct{}
	blockToolsets map[string]struct{}
	allowTools    map[tools.Ident]struct{}
	blockTools    map[tools.Ident]struct{}
}

// New builds an Engine.
func New(opts Options) *Engine {
	return &Engine{
		allowToolsets: toSet[string](opts.AllowToolsets),
		blockToolsets: toSet[string](opts.BlockToolsets),
		allowTools:    toSet[tools.Ident](opts.AllowTools),
		blockTools:    toSet[tools.Ident](opts.BlockTools),
	}
}

// Filter returns the tools of list the engine allows, in order. Later tools
// reusing an earlier name are dropped.
func (e *Engine) Filter(list []tools.Tool) []tools.Tool {
	filtered := make([]tools.Tool, 0, len(list))
	seen := make(map[tools.Ident]struct{}, len(list))
	for _, t := range list {
		if _, ok := seen[t.Name]; ok {
			continue
		}
		if !e.Allows(t) {
			continue
		}
		filtered = append(filtered, t)
		seen[t.Name] = struct{}{}
	}
	return filtered
}

// Allows reports whether t may be exposed.
func (e *Engine) Allows(t tools.Tool) bool {
	if _, blocked := e.blockTools[t.Name]; blocked {
		return false
	}
	if _, blocked := e.blockToolsets[t.Toolset]; blocked {
		return false
	}
	if len(e.allowTools) > 0 {
		_, ok := e.allowTools[t.Name]
		return ok
	}
	if len(e.allowToolsets) > 0 {
		_, ok := e.allowToolsets[t.Toolset]
		return ok
	}
	return true
}

func toSet[T ~string](values []string) map[T]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[T]struct{}, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			set[T(trimmed)] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}
