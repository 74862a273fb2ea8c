package loader

import (
	"encoding/json"
	"os"

	"github.com/matt-riley/cerebro/internal/core"
)

// LookupFunc resolves an environment variable.
type LookupFunc func(name string) (string, bool)

// OverridesFromEnv builds overrides from variables named exactly like
// settings. Values that parse as JSON (numbers, booleans, lists, objects)
// are used decoded; anything else is used as a string. A nil lookup reads
// the process environment.
func OverridesFromEnv(entries []core.Entry, lookup LookupFunc) core.Overrides {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	overrides := make(core.Overrides)
	for _, entry := range entries {
		raw, ok := lookup(entry.Setting)
		if !ok {
			continue
		}

		var decoded any
		if err := json.Unmarshal([]byte(raw), &decoded); err == nil && decoded != nil {
			overrides[entry.Setting] = decoded
			continue
		}
		overrides[entry.Setting] = raw
	}

	return overrides
}
