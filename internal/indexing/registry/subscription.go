package registry

import "sync"

// Subscription is the caller's handle on a registered address.
type Subscription struct {
	Address string

	registry *Registry
	gen      uint64
	once     sync.Once
}

// Release removes the address from the registry. Releasing more than once,
// or releasing a subscription whose address was re-added since, is a no-op.
func (s *Subscription) Release() {
	s.once.Do(func() {
		s.registry.mu.Lock()
		ok := s.registry.removeLocked(s.Address, s.gen)
		s.registry.mu.Unlock()

		if ok {
			s.registry.notifyRemoved(s.Address)
		}
	})
}
