// internal/rules/store.go
package rules

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrDuplicateID = errors.New("rule id already exists")
	ErrNotFound    = errors.New("rule not found")
)

// Persister mirrors store mutations to durable storage.
type Persister interface {
	UpsertRule(rule Rule) error
	DeleteRule(id string) error
}

type entry struct {
	rule Rule
	seq  uint64
}

// Store is the authoritative rule collection. Every mutation and every
// snapshot read goes through mu, so readers never observe a partial update.
type Store struct {
	mu        sync.Mutex
	rules     map[string]*entry
	seq       uint64
	persister Persister
	now       func() time.Time
}

// NewStore creates an empty store. persister may be nil.
func NewStore(persister Persister) *Store {
	return &Store{
		rules:     make(map[string]*entry),
		persister: persister,
		now:       time.Now,
	}
}

// Restore loads rules that already exist in durable storage without
// writing them back. Rules keep the order they are given in.
func (s *Store) Restore(rules ...Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("restoring rule %s: %w", r.ID, err)
		}
		if _, exists := s.rules[r.ID]; exists {
			return fmt.Errorf("restoring rule %s: %w", r.ID, ErrDuplicateID)
		}
		s.insert(r.Clone())
	}
	return nil
}

// Add inserts a new rule.
func (s *Store) Add(rule Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, rule.ID)
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = s.now().UTC()
	}
	rule = rule.Clone()

	if s.persister != nil {
		if err := s.persister.UpsertRule(rule); err != nil {
			return fmt.Errorf("persisting rule %s: %w", rule.ID, err)
		}
	}
	s.insert(rule)
	return nil
}

func (s *Store) insert(rule Rule) {
	s.seq++
	s.rules[rule.ID] = &entry{rule: rule, seq: s.seq}
}

// Remove deletes a rule by id.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if s.persister != nil {
		if err := s.persister.DeleteRule(id); err != nil {
			return fmt.Errorf("deleting rule %s: %w", id, err)
		}
	}
	delete(s.rules, id)
	return nil
}

// Toggle flips a rule's active flag and returns the new value.
func (s *Store) Toggle(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.rules[id]
	if !exists {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	updated := e.rule
	updated.IsActive = !updated.IsActive
	if s.persister != nil {
		if err := s.persister.UpsertRule(updated); err != nil {
			return e.rule.IsActive, fmt.Errorf("persisting rule %s: %w", id, err)
		}
	}
	e.rule = updated
	return updated.IsActive, nil
}

// SyncResult counts what a Sync changed.
type SyncResult struct {
	Added   int
	Updated int
	Removed int
}

// Sync replaces every rule from source with the given set in one step.
// Rules keep their position when they survive. Nothing is persisted, and
// nothing changes if any rule is invalid or collides with a rule from
// another source.
func (s *Store) Sync(source string, rules []Rule) (SyncResult, error) {
	incoming := make(map[string]Rule, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return SyncResult{}, fmt.Errorf("syncing rule %s: %w", r.ID, err)
		}
		if _, dup := incoming[r.ID]; dup {
			return SyncResult{}, fmt.Errorf("syncing rule %s: %w", r.ID, ErrDuplicateID)
		}
		r.Source = source
		incoming[r.ID] = r.Clone()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range incoming {
		if e, exists := s.rules[id]; exists && e.rule.Source != source {
			return SyncResult{}, fmt.Errorf("syncing rule %s: %w (owned by %s)", id, ErrDuplicateID, e.rule.Source)
		}
	}

	var res SyncResult
	for id, e := range s.rules {
		if e.rule.Source != source {
			continue
		}
		if _, keep := incoming[id]; !keep {
			delete(s.rules, id)
			res.Removed++
		}
	}
	for _, r := range rules {
		r = incoming[r.ID]
		if e, exists := s.rules[r.ID]; exists {
			if r.CreatedAt.IsZero() {
				r.CreatedAt = e.rule.CreatedAt
			}
			e.rule = r
			res.Updated++
			continue
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = s.now().UTC()
		}
		s.insert(r)
		res.Added++
	}
	return res, nil
}

// Get returns a copy of one rule.
func (s *Store) Get(id string) (Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.rules[id]
	if !exists {
		return Rule{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.rule.Clone(), nil
}

// List returns every rule in insertion order.
func (s *Store) List() []Rule {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.sorted(func(*entry) bool { return true }, false)
	return cloneAll(entries)
}

// Active returns a snapshot of active rules, highest priority first.
// Rules with equal priority keep insertion order.
func (s *Store) Active() []Rule {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.sorted(func(e *entry) bool { return e.rule.IsActive }, true)
	return cloneAll(entries)
}

// Len returns the number of rules, active or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rules)
}

func (s *Store) sorted(keep func(*entry) bool, byPriority bool) []*entry {
	out := make([]*entry, 0, len(s.rules))
	for _, e := range s.rules {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if byPriority && out[i].rule.Priority != out[j].rule.Priority {
			return out[i].rule.Priority > out[j].rule.Priority
		}
		return out[i].seq < out[j].seq
	})
	return out
}

func cloneAll(entries []*entry) []Rule {
	out := make([]Rule, len(entries))
	for i, e := range entries {
		out[i] = e.rule.Clone()
	}
	return out
}
