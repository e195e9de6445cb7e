// Package models maps caller-supplied model identifiers onto the fixed set
// of upstream model names.
package models

import "sort"

// canonicalModels is the recognized upstream model set. Names in this set
// pass through resolution unchanged.
var canonicalModels = []string{
	"qwen3-max-latest",
	"qwen3-coder-plus",
	"qwen3-235b-a22b-2507",
	"qwen-max-latest",
	"qwen-deep-research",
	"qwen2.5-max",
	"qwen2.5-turbo",
	"qwen-vl-max",
	"qwen-vl-plus",
	"qwen-coder-turbo",
	"qwen-math-plus",
	"qwen-math-turbo",
}

// aliases map convenience names onto canonical models. Resolved before the
// default fallback.
var aliases = map[string]string{
	"qwen_research": "qwen-deep-research",
	"qwen_think":    "qwen3-235b-a22b-2507",
	"qwen_code":     "qwen3-coder-plus",
}

// DefaultModel is the canonical model used for every unrecognized input.
const DefaultModel = "qwen3-max-latest"

// Resolver maps arbitrary model identifiers to canonical upstream names.
// Resolution is a pure function of the input string: an exact, case-sensitive
// member of the canonical set resolves to itself, a known alias to its
// target, and everything else — empty strings, vendor names from other
// ecosystems — to the configured default.
type Resolver struct {
	canonical map[string]bool
	def       string
}

// NewResolver creates a Resolver with the given default model. An empty or
// unrecognized default falls back to DefaultModel.
func NewResolver(defaultModel string) *Resolver {
	set := make(map[string]bool, len(canonicalModels))
	for _, m := range canonicalModels {
		set[m] = true
	}
	if !set[defaultModel] {
		defaultModel = DefaultModel
	}
	return &Resolver{canonical: set, def: defaultModel}
}

// Resolve returns the canonical model for name. It is total: it never errors.
func (r *Resolver) Resolve(name string) string {
	if r.canonical[name] {
		return name
	}
	if target, ok := aliases[name]; ok {
		return target
	}
	return r.def
}

// Default returns the configured default canonical model.
func (r *Resolver) Default() string {
	return r.def
}

// Canonical returns the canonical model set, sorted, for the model listing.
func (r *Resolver) Canonical() []string {
	out := make([]string, len(canonicalModels))
	copy(out, canonicalModels)
	sort.Strings(out)
	return out
}
