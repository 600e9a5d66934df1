package scrape

import "sort"

// Registry holds extractors by routing name.
type Registry struct {
	extractors map[string]Extractor
}

// NewRegistry creates a Registry. A later extractor with the same name
// replaces an earlier one.
func NewRegistry(exts ...Extractor) *Registry {
	r := &Registry{extractors: make(map[string]Extractor, len(exts))}
	for _, e := range exts {
		r.Register(e)
	}
	return r
}

// Register adds e under e.Name().
func (r *Registry) Register(e Extractor) {
	if e == nil {
		return
	}
	r.extractors[e.Name()] = e
}

// Get returns the extractor registered as name.
func (r *Registry) Get(name string) (Extractor, bool) {
	e, ok := r.extractors[name]
	return e, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.extractors))
	for n := range r.extractors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
