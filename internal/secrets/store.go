package secrets

import (
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	nexuserrors "github.com/nexus-fleet/nexus/pkg/errors"
)

// Store is a read-only name to value map. Format and encryption are the
// provider's concern, not the engine's.
type Store interface {
	Get(name string) (string, bool)
	Names() []string
}

// Static is an in-memory store.
type Static map[string]string

var _ Store = Static{}

// Get implements Store.
func (s Static) Get(name string) (string, bool) {
	value, ok := s[name]
	return value, ok
}

// Names implements Store, ascending.
func (s Static) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadFile reads a flat YAML map of secret names to values.
func LoadFile(path string) (Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nexuserrors.NewParseError(path, 0, err)
	}

	store := Static{}
	if err := yaml.Unmarshal(data, &store); err != nil {
		return nil, nexuserrors.NewParseError(path, 0, err)
	}
	return store, nil
}

// FromEnv collects environment variables carrying the prefix, with the
// prefix stripped and the remainder lowercased.
func FromEnv(prefix string) Static {
	store := Static{}
	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		store[strings.ToLower(strings.TrimPrefix(key, prefix))] = value
	}
	return store
}
