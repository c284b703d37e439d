// Package registry owns the set of watched accounts and their handlers.
package registry

import (
	"sync"
	"time"

	"github.com/vietddude/activitywatch/internal/core/domain"
)

// Listener observes registry lifecycle transitions.
// OnActive, OnIdle and OnAdded run while the registry lock is held and must
// not call back into it. OnRemoved runs after the lock is released.
type Listener interface {
	// OnActive fires when the registry goes from empty to non-empty
	OnActive()

	// OnIdle fires when the registry goes from non-empty to empty
	OnIdle()

	// OnAdded fires after a new address has been inserted
	OnAdded(address string)

	// OnRemoved fires after an address has been removed
	OnRemoved(address string)
}

type entry struct {
	handler       domain.Handler
	lastSignature string
	addedAt       time.Time
	gen           uint64
}

// Registry implements an in-memory set of watched accounts keyed by address.
type Registry struct {
	mu       sync.RWMutex
	accounts map[string]*entry
	listener Listener
	network  domain.Network
	gen      uint64
}

// New creates an empty registry.
func New(network domain.Network) *Registry {
	return &Registry{
		accounts: make(map[string]*entry),
		network:  network,
	}
}

// SetListener registers the lifecycle listener.
func (r *Registry) SetListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listener = l
}

// Add registers address with handler. Re-adding an address replaces its
// handler and keeps its signature state.
func (r *Registry) Add(address string, handler domain.Handler) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gen++
	wasEmpty := len(r.accounts) == 0

	if e, ok := r.accounts[address]; ok {
		e.handler = handler
		e.gen = r.gen
	} else {
		r.accounts[address] = &entry{
			handler: handler,
			addedAt: time.Now(),
			gen:     r.gen,
		}
		if r.listener != nil {
			r.listener.OnAdded(address)
		}
	}

	if wasEmpty && r.listener != nil {
		r.listener.OnActive()
	}

	return &Subscription{Address: address, registry: r, gen: r.gen}
}

// Remove removes address. Removing an unknown address is a no-op.
func (r *Registry) Remove(address string) bool {
	r.mu.Lock()
	ok := r.removeLocked(address, 0)
	r.mu.Unlock()

	if ok {
		r.notifyRemoved(address)
	}
	return ok
}

// removeLocked removes address, optionally only if it still belongs to gen.
// The caller reports the removal through notifyRemoved once unlocked.
func (r *Registry) removeLocked(address string, gen uint64) bool {
	e, ok := r.accounts[address]
	if !ok || (gen != 0 && e.gen != gen) {
		return false
	}
	delete(r.accounts, address)

	if len(r.accounts) == 0 && r.listener != nil {
		r.listener.OnIdle()
	}
	return true
}

func (r *Registry) notifyRemoved(addresses ...string) {
	r.mu.RLock()
	l := r.listener
	r.mu.RUnlock()
	if l == nil {
		return
	}
	for _, addr := range addresses {
		l.OnRemoved(addr)
	}
}

// Clear removes every address and returns them.
func (r *Registry) Clear() []string {
	r.mu.Lock()
	removed := make([]string, 0, len(r.accounts))
	for addr := range r.accounts {
		removed = append(removed, addr)
	}
	for _, addr := range removed {
		r.removeLocked(addr, 0)
	}
	r.mu.Unlock()

	r.notifyRemoved(removed...)
	return removed
}

// IsEmpty reports whether no address is registered.
func (r *Registry) IsEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts) == 0
}

// Len returns the number of registered addresses.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts)
}

// Contains checks if an address is registered.
func (r *Registry) Contains(address string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.accounts[address]
	return ok
}

// Addresses returns a snapshot of the registered addresses.
func (r *Registry) Addresses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]string, 0, len(r.accounts))
	for addr := range r.accounts {
		result = append(result, addr)
	}
	return result
}

// ForEach calls fn for every address of a snapshot taken at call time.
// Order is not significant.
func (r *Registry) ForEach(fn func(address string)) {
	for _, addr := range r.Addresses() {
		fn(addr)
	}
}

// Handler returns the handler registered for address.
func (r *Registry) Handler(address string) (domain.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.accounts[address]
	if !ok || e.handler == nil {
		return nil, false
	}
	return e.handler, true
}

// LastSignature returns the last processed signature of address, or "".
func (r *Registry) LastSignature(address string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.accounts[address]; ok {
		return e.lastSignature
	}
	return ""
}

// MarkProcessed records sig as the last processed signature of address.
// It returns false if the address is no longer registered.
func (r *Registry) MarkProcessed(address, sig string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.accounts[address]
	if !ok {
		return false
	}
	e.lastSignature = sig
	return true
}

// Accounts returns a snapshot of the watched accounts.
func (r *Registry) Accounts() []domain.WatchedAccount {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]domain.WatchedAccount, 0, len(r.accounts))
	for addr, e := range r.accounts {
		result = append(result, domain.WatchedAccount{
			Address:       addr,
			Network:       r.network,
			LastSignature: e.lastSignature,
			CreatedAt:     e.addedAt,
		})
	}
	return result
}
