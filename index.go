package siva

import (
	"iter"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Policy selects how the records of all blocks are reconciled into an Index.
type Policy int

const (
	// PolicyFiltered keeps the newest record of every name and drops names
	// whose newest record is a deletion. Entries are sorted by name.
	PolicyFiltered Policy = iota

	// PolicyComplete keeps every record, deletions and overwritten versions
	// included, in the order they were decoded: newest block first, records
	// within a block in file order.
	PolicyComplete
)

// String returns the name of the policy.
func (p Policy) String() string {
	switch p {
	case PolicyFiltered:
		return "filtered"
	case PolicyComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// ParsePolicy returns the policy named s.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "filtered", "":
		return PolicyFiltered, nil
	case "complete":
		return PolicyComplete, nil
	default:
		return 0, ErrUnknownPolicy
	}
}

func (p Policy) newBuilder() (builder, error) {
	switch p {
	case PolicyFiltered:
		return newFilteredBuilder(), nil
	case PolicyComplete:
		return &completeBuilder{}, nil
	default:
		return nil, ErrUnknownPolicy
	}
}

// Index is the listing of a siva file under one Policy.
//
// An Index is immutable once returned and safe for concurrent use.
type Index struct {
	policy  Policy
	entries []*Entry
	byName  map[string]*Entry
}

func newIndex(p Policy, entries []*Entry) *Index {
	byName := make(map[string]*Entry, len(entries))
	for _, e := range entries {
		if _, ok := byName[e.Name]; !ok {
			byName[e.Name] = e
		}
	}
	return &Index{policy: p, entries: entries, byName: byName}
}

// Policy returns the policy the index was built with.
func (idx *Index) Policy() Policy {
	return idx.policy
}

// Len returns the number of entries.
func (idx *Index) Len() int {
	return len(idx.entries)
}

// Entries returns the entries of the index.
//
// The returned slice is a copy; the entries it points to are shared and must
// not be modified.
func (idx *Index) Entries() []*Entry {
	return slices.Clone(idx.entries)
}

// All returns an iterator over the entries in index order.
func (idx *Index) All() iter.Seq[*Entry] {
	return func(yield func(*Entry) bool) {
		for _, e := range idx.entries {
			if !yield(e) {
				return
			}
		}
	}
}

// Find returns the entry named name. For a complete index this is the newest
// record of the name, which may be a deletion.
func (idx *Index) Find(name string) (*Entry, bool) {
	e, ok := idx.byName[name]
	return e, ok
}

// Glob returns the entries whose name matches pattern.
//
// Patterns follow path.Match syntax extended with "**": "*", "?" and
// character classes never match "/", while "**" matches any number of path
// elements. An empty slice is returned when nothing matches. A malformed
// pattern returns doublestar.ErrBadPattern.
func (idx *Index) Glob(pattern string) ([]*Entry, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, doublestar.ErrBadPattern
	}
	matches := make([]*Entry, 0)
	for _, e := range idx.entries {
		ok, err := doublestar.Match(pattern, e.Name)
		if err != nil {
			return nil, err
		}
		if ok {
			matches = append(matches, e)
		}
	}
	return matches, nil
}

// builder reconciles entries while the block chain is walked from the newest
// block to the oldest.
type builder interface {
	// add is called for every record in decode order.
	add(e *Entry)
	// endBlock is called once all records of a block were added.
	endBlock()
	// entries returns the reconciled listing.
	entries() []*Entry
}

type filteredBuilder struct {
	deleted map[string]struct{}
	block   map[string]*Entry
	live    map[string]*Entry
}

func newFilteredBuilder() *filteredBuilder {
	return &filteredBuilder{
		deleted: make(map[string]struct{}),
		block:   make(map[string]*Entry),
		live:    make(map[string]*Entry),
	}
}

func (b *filteredBuilder) add(e *Entry) {
	if e.IsDeleted() {
		// Every older record of the name is now hidden.
		b.deleted[e.Name] = struct{}{}
		delete(b.block, e.Name)
		return
	}
	if _, ok := b.deleted[e.Name]; ok {
		return
	}
	b.block[e.Name] = e
}

func (b *filteredBuilder) endBlock() {
	for name, e := range b.block {
		if _, ok := b.live[name]; !ok {
			b.live[name] = e
		}
	}
	clear(b.block)
}

func (b *filteredBuilder) entries() []*Entry {
	out := make([]*Entry, 0, len(b.live))
	for _, e := range b.live {
		out = append(out, e)
	}
	slices.SortFunc(out, func(x, y *Entry) int {
		return strings.Compare(x.Name, y.Name)
	})
	return out
}

type completeBuilder struct {
	records []*Entry
}

func (b *completeBuilder) add(e *Entry) {
	b.records = append(b.records, e)
}

func (b *completeBuilder) endBlock() {}

func (b *completeBuilder) entries() []*Entry {
	if b.records == nil {
		return []*Entry{}
	}
	return b.records
}
