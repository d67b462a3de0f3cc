package observability

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	observers = map[string]Observer{
		"noop":    NoOpObserver{},
		"slog":    NewSlogObserver(slog.Default()),
		"zerolog": NewZerologObserver(zerolog.New(os.Stderr).With().Timestamp().Logger()),
	}
	mutex sync.RWMutex
)

// GetObserver returns a registered observer by name. A comma-separated
// list of names yields a MultiObserver over each of them.
// Pre-registered observers: "noop", "slog" (default slog logger) and
// "zerolog" (JSON to stderr).
func GetObserver(name string) (Observer, error) {
	mutex.RLock()
	defer mutex.RUnlock()

	names := strings.Split(name, ",")
	selected := make([]Observer, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		obs, exists := observers[n]
		if !exists {
			return nil, fmt.Errorf("unknown observer: %s", n)
		}
		selected = append(selected, obs)
	}

	if len(selected) == 1 {
		return selected[0], nil
	}
	return NewMultiObserver(selected...), nil
}

// RegisterObserver adds or replaces a named observer in the global registry.
func RegisterObserver(name string, observer Observer) {
	mutex.Lock()
	defer mutex.Unlock()

	observers[name] = observer
}
