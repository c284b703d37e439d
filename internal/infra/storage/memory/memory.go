package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/activitywatch/internal/core/domain"
)

type MemoryStorage struct {
	accounts map[string]*domain.WatchedAccount
	events   map[string][]*domain.ActivityEvent
	seen     map[string]struct{}
	mu       sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		accounts: make(map[string]*domain.WatchedAccount),
		events:   make(map[string][]*domain.ActivityEvent),
		seen:     make(map[string]struct{}),
	}
}

func key(network domain.Network, address string) string {
	return string(network) + ":" + address
}

// -----------------------------------------------------------------------------
// Account Repository
// -----------------------------------------------------------------------------

type AccountRepo struct {
	store *MemoryStorage
}

func NewAccountRepo(store *MemoryStorage) *AccountRepo {
	return &AccountRepo{store: store}
}

func (r *AccountRepo) Save(ctx context.Context, account *domain.WatchedAccount) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	a := *account
	if existing, ok := r.store.accounts[key(a.Network, a.Address)]; ok {
		a.CreatedAt = existing.CreatedAt
	} else if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	r.store.accounts[key(a.Network, a.Address)] = &a
	return nil
}

func (r *AccountRepo) Delete(ctx context.Context, network domain.Network, address string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.accounts, key(network, address))
	return nil
}

func (r *AccountRepo) Get(ctx context.Context, network domain.Network, address string) (*domain.WatchedAccount, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	a, ok := r.store.accounts[key(network, address)]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *AccountRepo) List(ctx context.Context, network domain.Network) ([]*domain.WatchedAccount, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var result []*domain.WatchedAccount
	for _, a := range r.store.accounts {
		if a.Network == network {
			cp := *a
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// -----------------------------------------------------------------------------
// Event Repository
// -----------------------------------------------------------------------------

type EventRepo struct {
	store *MemoryStorage
}

func NewEventRepo(store *MemoryStorage) *EventRepo {
	return &EventRepo{store: store}
}

func (r *EventRepo) SaveEvent(ctx context.Context, network domain.Network, event *domain.ActivityEvent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if event.Type == domain.EventTypeTransactions {
		id := key(network, event.Address) + ":" + event.TxHash
		if _, dup := r.store.seen[id]; dup {
			return nil
		}
		r.store.seen[id] = struct{}{}
	}
	k := key(network, event.Address)
	r.store.events[k] = append(r.store.events[k], event)
	return nil
}

func (r *EventRepo) ListByAddress(ctx context.Context, network domain.Network, address string, limit int) ([]*domain.ActivityEvent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	events := r.store.events[key(network, address)]
	result := make([]*domain.ActivityEvent, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		if limit > 0 && len(result) == limit {
			break
		}
		result = append(result, events[i])
	}
	return result, nil
}

func (r *EventRepo) DeleteEventsOlderThan(ctx context.Context, network domain.Network, before time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cutoff := before.UnixMilli()
	prefix := string(network) + ":"
	var deleted int64
	for k, events := range r.store.events {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		kept := events[:0]
		for _, ev := range events {
			if ev.Timestamp < cutoff {
				delete(r.store.seen, k+":"+ev.TxHash)
				deleted++
				continue
			}
			kept = append(kept, ev)
		}
		if len(kept) == 0 {
			delete(r.store.events, k)
		} else {
			r.store.events[k] = kept
		}
	}
	return deleted, nil
}
