// Package sources maps provider type identifiers to the adapter packages
// that implement them.
package sources

import (
	"slices"

	"botcore/pkg/provider/sources/dify"
	"botcore/pkg/provider/sources/gemini"
	"botcore/pkg/provider/sources/ollama"
	"botcore/pkg/provider/sources/openailm"
	"botcore/pkg/provider/sources/whisper"
)

var modules = map[string]func(){
	openailm.TypeOpenAI: openailm.Register,
	openailm.TypeZhipu:  openailm.Register,
	dify.Type:           dify.Register,
	gemini.Type:         gemini.Register,
	ollama.Type:         ollama.Register,
	whisper.Type:        whisper.Register,
}

// Load registers the adapter module for typeID. It reports false when no
// module provides that type. Use it as the manager's loader.
func Load(typeID string) bool {
	register, ok := modules[typeID]
	if !ok {
		return false
	}
	register()
	return true
}

// Known lists the type identifiers that Load can satisfy.
func Known() []string {
	types := make([]string, 0, len(modules))
	for t := range modules {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}
