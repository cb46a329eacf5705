package plugins

import (
	"context"

	"github.com/microcosm-cc/bluemonday"
)

// ComponentFactory constructs a plugin's entry component. The host's
// actual component/injection primitives are out of scope (spec.md
// §1); this runtime only needs to instantiate something that can carry
// the four lifecycle hooks, so a factory is modeled as a function
// returning a Component.
type ComponentFactory func() Component

// Component is the subset of a plugin's entry component the runtime
// drives through its lifecycle. A plugin only implements the hooks it
// needs; embedding BaseComponent supplies no-op defaults for the rest.
type Component interface {
	OnLoad(ctx context.Context, pctx *PluginContext) error
	OnActivate(ctx context.Context, pctx *PluginContext) error
	OnDeactivate(ctx context.Context) error
	OnDestroy(ctx context.Context) error
}

// BaseComponent provides no-op defaults for every Component hook, so a
// plugin only overrides the ones it cares about.
type BaseComponent struct{}

func (BaseComponent) OnLoad(context.Context, *PluginContext) error { return nil }
func (BaseComponent) OnActivate(context.Context, *PluginContext) error { return nil }
func (BaseComponent) OnDeactivate(context.Context) error { return nil }
func (BaseComponent) OnDestroy(context.Context) error { return nil }

// PluginManifest is the metadata a Module must carry. Manifest.Name
// should match the registered descriptor's name; a mismatch is a
// warning under DebugOptions.ValidateManifests, and fails the load
// only when DebugOptions.ThrowOnWarnings is also set.
type PluginManifest struct {
	Name           string
	Version        string
	EntryComponent ComponentFactory
	EntryModule    string
	DisplayName    string
	Description    string
	Author         string
	Dependencies   []string
}

// Module is the expected shape of a Loader's resolved value.
type Module struct {
	Manifest PluginManifest
}

var manifestSanitizer = bluemonday.StrictPolicy()

// SanitizedManifestView strips any markup from manifest fields that
// may be surfaced to a dashboard UI. Remote-loaded manifests are
// host-untrusted input (spec.md §1: "trust is the host's
// responsibility" for code execution, but display text still gets
// basic hygiene here).
type SanitizedManifestView struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	DisplayName string `json:"displayName,omitempty"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author,omitempty"`
}

func SanitizeManifest(m PluginManifest) SanitizedManifestView {
	return SanitizedManifestView{
		Name:        manifestSanitizer.Sanitize(m.Name),
		Version:     manifestSanitizer.Sanitize(m.Version),
		DisplayName: manifestSanitizer.Sanitize(m.DisplayName),
		Description: manifestSanitizer.Sanitize(m.Description),
		Author:      manifestSanitizer.Sanitize(m.Author),
	}
}
