package extractor

import "sort"

// Registry holds the registered extractor capabilities. It is populated
// once at startup and read-only afterwards, so lookups need no locking.
type Registry struct {
	extractors []Extractor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends an extractor. Registration order is lookup priority.
func (r *Registry) Register(e Extractor) {
	r.extractors = append(r.extractors, e)
}

// Resolve returns the first registered extractor that can handle the file,
// or nil when none matches.
func (r *Registry) Resolve(path string) Extractor {
	for _, e := range r.extractors {
		if e.CanHandle(path) {
			return e
		}
	}
	return nil
}

// SupportedTypes returns the sorted union of all registered extensions.
func (r *Registry) SupportedTypes() []string {
	seen := make(map[string]bool)
	for _, e := range r.extractors {
		for _, ext := range e.Extensions() {
			seen[ext] = true
		}
	}
	exts := make([]string, 0, len(seen))
	for ext := range seen {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
