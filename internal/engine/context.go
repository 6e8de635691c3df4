package engine

import "fmt"

// Context is the growing table of named step outputs and workflow
// inputs. Entries are published once and never overwritten; parallel
// children receive independent deep copies so siblings cannot observe
// each other's partial writes.
type Context map[string]any

// Clone deep-copies the context.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = deepCopy(v)
	}
	return out
}

// Publish adds an entry. Publishing over an existing key is a bug in
// the caller: step names are unique per scope and checked at parse
// time.
func (c Context) Publish(key string, value any) error {
	if _, exists := c[key]; exists {
		return fmt.Errorf("context key already published: %s", key)
	}
	c[key] = value
	return nil
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return val
	}
}
