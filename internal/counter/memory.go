package counter

import (
	"context"
	"sync"
)

type MemoryCounter struct {
	mu      sync.Mutex
	counts  map[string]int64
	members map[string]map[string]struct{}
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		counts:  make(map[string]int64),
		members: make(map[string]map[string]struct{}),
	}
}

func (c *MemoryCounter) IssueAtomically(_ context.Context, counterKey, membershipKey, member string, max int64) (Admission, error) {
	if err := validate(counterKey, membershipKey, member, max); err != nil {
		return Admission{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	set := c.members[membershipKey]
	if _, ok := set[member]; ok {
		return Admission{Status: StatusAlreadyIssued}, nil
	}
	if c.counts[counterKey] >= max {
		return Admission{Status: StatusOutOfStock}, nil
	}
	c.counts[counterKey]++
	if set == nil {
		set = make(map[string]struct{})
		c.members[membershipKey] = set
	}
	set[member] = struct{}{}
	return Admission{Status: StatusGranted, Rank: c.counts[counterKey]}, nil
}

func (c *MemoryCounter) HasIssued(_ context.Context, membershipKey, member string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.members[membershipKey][member]
	return ok, nil
}

func (c *MemoryCounter) Seed(_ context.Context, counterKey string, value int64) error {
	if counterKey == "" {
		return ErrEmptyKey
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.counts[counterKey]; !ok {
		c.counts[counterKey] = value
	}
	return nil
}

func (c *MemoryCounter) Current(_ context.Context, counterKey string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[counterKey], nil
}
