package wrappers

import (
	"fmt"
	"sort"
	"strings"

	"github.com/steveyegge/campaign/internal/params"
)

// Options are the settings of a wrapper declared in a campaign file, as
// decoded from YAML or TOML.
type Options map[string]any

// String returns the option as a string, or def when unset.
func (o Options) String(key, def string) string {
	v, ok := o[key]
	if !ok || v == nil {
		return def
	}
	return params.Format(v)
}

// Int returns the option as an int, or def when unset.
func (o Options) Int(key string, def int) (int, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	n, err := params.AsInt(v)
	if err != nil {
		return 0, fmt.Errorf("option %s: %w", key, err)
	}
	return n, nil
}

// Bool returns the option as a bool, or def when unset.
func (o Options) Bool(key string, def bool) (bool, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(b) {
		case "true", "yes", "on", "1":
			return true, nil
		case "false", "no", "off", "0":
			return false, nil
		}
	}
	return false, fmt.Errorf("option %s: %v is not a boolean", key, v)
}

// Strings returns a list option. A scalar is a one-element list; a comma
// separated string is split.
func (o Options) Strings(key string) []string {
	v, ok := o[key]
	if !ok || v == nil {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...)
	case []any:
		out := make([]string, len(list))
		for i, item := range list {
			out[i] = params.Format(item)
		}
		return out
	case string:
		if list == "" {
			return nil
		}
		parts := strings.Split(list, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	default:
		return []string{params.Format(v)}
	}
}

// StringMap returns a table option with values in canonical string form.
func (o Options) StringMap(key string) map[string]string {
	v, ok := o[key]
	if !ok || v == nil {
		return nil
	}
	out := make(map[string]string)
	switch m := v.(type) {
	case map[string]any:
		for k, val := range m {
			out[k] = params.Format(val)
		}
	case map[string]string:
		for k, val := range m {
			out[k] = val
		}
	}
	return out
}

// Keys returns the option names, sorted.
func (o Options) Keys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
