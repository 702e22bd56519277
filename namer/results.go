package namer

import (
	"iter"
	"maps"
	"slices"
)

// Results groups namespaced keys by namespace name.
type Results struct {
	isSingle     bool             // True if result contains only one namespace.
	isSingleName string           // Cached name when isSingle=true.
	result       map[string][]Key // Grouped keys: namespace name -> key list.
}

func getFirstFromMap(m map[string][]Key) string {
	for name := range m {
		return name
	}

	return ""
}

// NewResults creates a new Results instance from the provided initial data.
func NewResults(initial map[string][]Key) Results {
	return Results{
		isSingle:     len(initial) == 1,
		isSingleName: getFirstFromMap(initial),
		result:       initial,
	}
}

// Group parses stored keys and groups them by namespace, keeping their order.
func Group(raws iter.Seq[[]byte]) (Results, error) {
	grouped := make(map[string][]Key)

	for raw := range raws {
		k, err := Parse(raw)
		if err != nil {
			return Results{}, err
		}

		grouped[k.Namespace.Name()] = append(grouped[k.Namespace.Name()], k)
	}

	return NewResults(grouped), nil
}

// SelectSingle gets keys for single-namespace case (if applicable).
func (r *Results) SelectSingle() ([]Key, bool) {
	if r.isSingle {
		return r.result[r.isSingleName], true
	}

	return nil, false
}

// Items return iterator over all namespace->keys groups in name order.
func (r *Results) Items() iter.Seq2[string, []Key] {
	return func(yield func(string, []Key) bool) {
		for _, name := range r.Names() {
			if !yield(name, r.result[name]) {
				return
			}
		}
	}
}

// Names returns the namespace names in ascending order.
func (r *Results) Names() []string {
	return slices.Sorted(maps.Keys(r.result))
}

// Select gets keys for a specific namespace.
func (r *Results) Select(name string) ([]Key, bool) {
	if i, ok := r.result[name]; ok {
		return i, true
	}

	return nil, false
}

// Len returns the number of namespaces.
func (r *Results) Len() int {
	return len(r.result)
}
