package platform

import (
	"sort"
	"strings"
	"sync"
)

// Platform registry
var (
	platformsMu sync.RWMutex
	platforms   = make(map[string]*Platform)
)

// Get returns a platform by name.
func Get(name string) (*Platform, bool) {
	platformsMu.RLock()
	defer platformsMu.RUnlock()
	p, ok := platforms[strings.ToLower(name)]
	return p, ok
}

// Register registers a platform in the global registry, replacing any
// platform with the same name.
func Register(p *Platform) {
	platformsMu.Lock()
	defer platformsMu.Unlock()
	platforms[strings.ToLower(p.Name)] = p
}

// List returns all registered platform names (sorted).
func List() []string {
	platformsMu.RLock()
	defer platformsMu.RUnlock()
	names := make([]string, 0, len(platforms))
	for name := range platforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
