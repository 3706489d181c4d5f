// Package venue resolves venue client implementations by name. Wire clients
// live outside this module; they register a constructor at init time, the way
// database/sql drivers do. The built-in "sim" venue supports dry runs and
// integration tests without touching a real exchange.
package venue

import (
	"fmt"
	"sort"
	"sync"

	"github.com/arsanchez/arbot/internal/ports"
)

// Settings is the venue-agnostic configuration passed to constructors.
type Settings struct {
	Pair   string            // e.g. "btc_usd"
	APIKey string            //
	Extra  map[string]string // venue-specific knobs
}

// Constructor builds a venue client from settings.
type Constructor func(Settings) (ports.Venue, error)

var (
	mu       sync.Mutex
	registry = map[string]Constructor{}
)

// Register makes a venue constructor available under name. It panics on
// duplicates, like database/sql.Register.
func Register(name string, ctor Constructor) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("venue.Register: duplicate venue %q", name))
	}
	registry[name] = ctor
}

// Open builds the venue registered under name.
func Open(name string, settings Settings) (ports.Venue, error) {
	mu.Lock()
	ctor, ok := registry[name]
	known := names()
	mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("venue.Open: unknown venue %q (registered: %v)", name, known)
	}
	return ctor(settings)
}

// names lists registered venues; callers must hold mu.
func names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
