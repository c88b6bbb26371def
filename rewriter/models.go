package rewriter

import (
	"fmt"
	"sort"
)

// ModelSpec describes a selectable model and how it is served
type ModelSpec struct {
	Name          string      // Selector used on the command line
	ModelID       string      // Model identifier sent to the inference endpoint
	Family        ModelFamily // Prompt and extraction strategy
	Gated         bool        // Requires an access token
	ContextWindow int         // Maximum prompt plus completion tokens
}

var modelRegistry = map[string]ModelSpec{
	"openchat": {
		Name:          "openchat",
		ModelID:       "openchat/openchat-3.5-0106",
		Family:        FamilyPlainText,
		ContextWindow: 8192,
	},
	"llama-8b": {
		Name:          "llama-8b",
		ModelID:       "meta-llama/Meta-Llama-3.1-8B-Instruct",
		Family:        FamilyChat,
		Gated:         true,
		ContextWindow: 131072,
	},
	"llama3.1:8b": {
		Name:          "llama3.1:8b",
		ModelID:       "meta-llama/Meta-Llama-3.1-8B-Instruct",
		Family:        FamilyChat,
		Gated:         true,
		ContextWindow: 131072,
	},
	"llama3.1:70b": {
		Name:          "llama3.1:70b",
		ModelID:       "meta-llama/Llama-3.1-70B-Instruct",
		Family:        FamilyChat,
		Gated:         true,
		ContextWindow: 131072,
	},
}

// LookupModel returns the spec registered under name
func LookupModel(name string) (ModelSpec, error) {
	spec, ok := modelRegistry[name]
	if !ok {
		return ModelSpec{}, fmt.Errorf("%w: %q (choose from %v)", ErrUnknownModel, name, ModelNames())
	}
	return spec, nil
}

// ModelNames lists the selectable model names in sorted order
func ModelNames() []string {
	names := make([]string, 0, len(modelRegistry))
	for name := range modelRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
