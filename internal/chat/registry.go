package chat

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/samber/lo"
)

// Registry maps usernames to the sink of the connection that owns them.
// Locks are held only around map access, never across network I/O.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Sink
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		clients: make(map[string]Sink),
		logger:  logger,
	}
}

// TryRegister binds username to sink unless the name is already taken.
// Exactly one of several concurrent callers for the same name wins.
func (r *Registry) TryRegister(username string, sink Sink) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[username]; exists {
		return false
	}
	r.clients[username] = sink
	ConnectedClients.Set(float64(len(r.clients)))
	r.logger.Info("user registered", "username", username)
	return true
}

func (r *Registry) Lookup(username string) (Sink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sink, ok := r.clients[username]
	return sink, ok
}

// Unregister is a no-op when username is absent.
func (r *Registry) Unregister(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[username]; !ok {
		return
	}
	delete(r.clients, username)
	ConnectedClients.Set(float64(len(r.clients)))
	r.logger.Info("user left", "username", username)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Usernames returns a sorted snapshot of registered names.
func (r *Registry) Usernames() []string {
	r.mu.RLock()
	names := lo.Keys(r.clients)
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}
