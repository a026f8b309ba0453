package scripts

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/standardbeagle/wvbridge/internal/window"
)

// Attribute marks script elements owned by the registry.
const Attribute = "data-wvbridge-script-id"

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// InjectSnippet renders script that (re)creates the element for e. An
// existing element with the same id is removed first.
func InjectSnippet(e Entry) string {
	var apply string
	switch e.Type {
	case KindURL:
		apply = fmt.Sprintf("el.src = %s; el.async = true;", jsString(e.Content))
	default:
		apply = fmt.Sprintf("el.textContent = %s;", jsString(e.Content))
	}
	return fmt.Sprintf(`(function() {
  const id = %s;
  document.querySelectorAll('script[%s]').forEach(function(old) {
    if (old.getAttribute('%s') === id) { old.remove(); }
  });
  const el = document.createElement('script');
  el.setAttribute('%s', id);
  %s
  (document.head || document.documentElement).appendChild(el);
})();`, jsString(e.ID), Attribute, Attribute, Attribute, apply)
}

// RemoveSnippet renders script that removes the element for id.
func RemoveSnippet(id string) string {
	return fmt.Sprintf(`(function() {
  const id = %s;
  document.querySelectorAll('script[%s]').forEach(function(el) {
    if (el.getAttribute('%s') === id) { el.remove(); }
  });
})();`, jsString(id), Attribute, Attribute)
}

// ClearSnippet renders script that removes every registry element.
func ClearSnippet() string {
	return fmt.Sprintf(`document.querySelectorAll('script[%s]').forEach(function(el) { el.remove(); });`, Attribute)
}

// Replay injects every entry of r into surf in registration order. It keeps
// going after a failed injection and returns the number applied together
// with the joined errors.
func (r *Registry) Replay(surf window.Surface) (int, error) {
	var errs []error
	applied := 0
	for _, e := range r.All() {
		if err := surf.Eval(InjectSnippet(e)); err != nil {
			errs = append(errs, fmt.Errorf("inject %s into window '%s': %w", e.ID, surf.Label(), err))
			continue
		}
		applied++
	}
	return applied, errors.Join(errs...)
}
