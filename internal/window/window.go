// Package window resolves client-supplied window labels onto live UI
// surfaces owned by the host application.
package window

import (
	"fmt"
	"sort"
	"strings"

	"github.com/standardbeagle/wvbridge/internal/protocol"
)

// MainLabel is the primary surface targeted when a request names none.
const MainLabel = "main"

// Capabilities advertise what a surface's platform can do. The executor picks
// its result delivery strategy from DirectResult.
type Capabilities struct {
	// DirectResult reports that EvalWithResult hands the evaluated value to
	// the callback. Without it results come back through the report-back
	// command.
	DirectResult bool `json:"directResult"`
	// NativeCapture reports that the surface can produce a bitmap of its
	// visible viewport.
	NativeCapture bool `json:"nativeCapture"`
}

// Info describes a surface for listings.
type Info struct {
	Label        string       `json:"label"`
	Title        string       `json:"title,omitempty"`
	URL          string       `json:"url,omitempty"`
	Focused      bool         `json:"focused"`
	Visible      bool         `json:"visible"`
	IsMain       bool         `json:"isMain"`
	Width        int          `json:"width,omitempty"`
	Height       int          `json:"height,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
}

// Surface is one UI surface able to evaluate script.
type Surface interface {
	Label() string
	Info() Info
	Capabilities() Capabilities
	// Eval runs script without waiting for its value.
	Eval(script string) error
	// EvalWithResult runs script and calls cb with the string form of its
	// value. Surfaces without DirectResult return protocol.ErrUnsupported.
	EvalWithResult(script string, cb func(result string, err error)) error
}

// Provider exposes the host's current set of surfaces.
type Provider interface {
	Surfaces() []Surface
	Surface(label string) (Surface, bool)
}

// Resolver maps labels to surfaces. It keeps no state of its own, so every
// call observes the provider's current set.
type Resolver struct {
	provider Provider
}

// NewResolver creates a resolver over provider.
func NewResolver(provider Provider) *Resolver {
	return &Resolver{provider: provider}
}

// Resolve returns the surface named by label, or the main surface when label
// is empty. An explicit label that matches nothing is an error, never a
// fallback to main.
func (r *Resolver) Resolve(label string) (Surface, *protocol.WindowContext, error) {
	all := r.provider.Surfaces()
	ctx := &protocol.WindowContext{TotalWindows: len(all)}

	if label != "" {
		s, ok := r.provider.Surface(label)
		if !ok {
			return nil, ctx, fmt.Errorf("window '%s' %w", label, protocol.ErrNotFound)
		}
		ctx.WindowLabel = s.Label()
		return s, ctx, nil
	}

	s, ok := r.provider.Surface(MainLabel)
	if !ok {
		return nil, ctx, fmt.Errorf("window '%s' %w", MainLabel, protocol.ErrNotFound)
	}
	ctx.WindowLabel = s.Label()
	if len(all) > 1 {
		ctx.Warning = multipleWindowsWarning(all)
	}
	return s, ctx, nil
}

// List returns info for every surface, main first, the rest by label.
func (r *Resolver) List() []Info {
	return List(r.provider)
}

// List returns info for every surface of provider, main first, the rest by
// label.
func List(provider Provider) []Info {
	surfaces := provider.Surfaces()
	infos := make([]Info, 0, len(surfaces))
	for _, s := range surfaces {
		info := s.Info()
		info.Label = s.Label()
		info.IsMain = info.Label == MainLabel
		info.Capabilities = s.Capabilities()
		infos = append(infos, info)
	}
	sort.SliceStable(infos, func(i, j int) bool {
		if infos[i].IsMain != infos[j].IsMain {
			return infos[i].IsMain
		}
		return infos[i].Label < infos[j].Label
	})
	return infos
}

func multipleWindowsWarning(all []Surface) string {
	labels := make([]string, 0, len(all))
	for _, s := range all {
		labels = append(labels, s.Label())
	}
	sort.Strings(labels)
	return fmt.Sprintf(
		"Multiple windows detected (%d total). Defaulting to '%s' window. Use windowLabel to target a specific window. Available windows: %s",
		len(all), MainLabel, strings.Join(labels, ", "))
}
