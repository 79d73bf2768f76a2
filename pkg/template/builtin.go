package template

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
)

// The built-in catalog ships as data, not code. Deleting built-ins is
// forbidden; editing requires importing a copy with is_builtin=false.
//
//go:embed builtins.json
var builtinCatalog []byte

var (
	builtinOnce sync.Once
	builtins    []*Template
	builtinErr  error
)

// Builtins returns the embedded built-in templates. The returned slice is
// freshly cloned on every call so callers cannot mutate the catalog.
func Builtins() ([]*Template, error) {
	builtinOnce.Do(func() {
		var loaded []*Template
		if err := json.Unmarshal(builtinCatalog, &loaded); err != nil {
			builtinErr = fmt.Errorf("decode builtin catalog: %w", err)
			return
		}
		for _, t := range loaded {
			t.ApplyDefaults()
			t.IsBuiltin = true
			if err := t.Validate(); err != nil {
				builtinErr = fmt.Errorf("builtin %q: %w", t.TemplateName, err)
				return
			}
		}
		builtins = loaded
	})
	if builtinErr != nil {
		return nil, builtinErr
	}

	out := make([]*Template, len(builtins))
	for i, t := range builtins {
		out[i] = t.Clone()
	}
	return out, nil
}
