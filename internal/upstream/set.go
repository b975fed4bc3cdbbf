package upstream

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

var ErrDuplicateSource = errors.New("duplicate source name")

// Set is the fixed collection of sources known to the service.
type Set struct {
	sources map[string]*Source
}

func NewSet(sources ...*Source) (*Set, error) {
	set := &Set{sources: make(map[string]*Source, len(sources))}
	for _, s := range sources {
		if _, exists := set.sources[s.Name()]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateSource, s.Name())
		}
		set.sources[s.Name()] = s
	}
	return set, nil
}

// NewSetFromConfig builds every source with its own HTTP client.
func NewSetFromConfig(configs []Config) (*Set, error) {
	sources := make([]*Source, 0, len(configs))
	for _, cfg := range configs {
		s, err := New(cfg, nil)
		if err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	return NewSet(sources...)
}

func (s *Set) Get(name string) (*Source, bool) {
	src, ok := s.sources[name]
	return src, ok
}

// Names returns the source names in sorted order.
func (s *Set) Names() []string {
	return slices.Sorted(maps.Keys(s.sources))
}

func (s *Set) Len() int {
	return len(s.sources)
}
