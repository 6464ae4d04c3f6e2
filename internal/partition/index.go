package partition

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/auditvault/auditperf/pkg/errors"
	"github.com/auditvault/auditperf/pkg/types"
)

// Index is the in-memory metadata of one table's partitions: a name lookup
// plus a slice sorted by StartDate. Ranges never overlap, so EndDate is sorted
// too and both range bounds can be found by binary search.
//
// The index mirrors the database and can be rebuilt from a catalog scan with
// Reset.
type Index struct {
	mu     sync.RWMutex
	byName map[string]*types.PartitionMetadata
	sorted []*types.PartitionMetadata
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{byName: make(map[string]*types.PartitionMetadata)}
}

// AddPartition registers p. Duplicate names are rejected with
// PARTITION_EXISTS and ranges intersecting an existing partition with
// PARTITION_OVERLAP; the index is unchanged in both cases.
func (idx *Index) AddPartition(p types.PartitionMetadata) error {
	if err := validateRange(p); err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.insertLocked(p)
}

func (idx *Index) insertLocked(p types.PartitionMetadata) error {
	if _, exists := idx.byName[p.Name]; exists {
		return errors.NewError(errors.ErrCodePartitionExists,
			fmt.Sprintf("partition %s already registered", p.Name)).
			WithComponent("partition")
	}

	pos := idx.searchStart(p.StartDate)
	if pos > 0 && idx.sorted[pos-1].EndDate.After(p.StartDate) {
		return overlapError(p, idx.sorted[pos-1])
	}
	if pos < len(idx.sorted) && idx.sorted[pos].StartDate.Before(p.EndDate) {
		return overlapError(p, idx.sorted[pos])
	}

	entry := p
	idx.byName[p.Name] = &entry
	idx.sorted = slices.Insert(idx.sorted, pos, &entry)
	return nil
}

// FindPartitionByName returns the partition named name.
func (idx *Index) FindPartitionByName(name string) (types.PartitionMetadata, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	p, ok := idx.byName[name]
	if !ok {
		return types.PartitionMetadata{}, false
	}
	return *p, true
}

// FindPartitionsForDateRange returns every partition intersecting the
// half-open range [start, end) in ascending StartDate order. An empty or
// inverted range matches nothing.
func (idx *Index) FindPartitionsForDateRange(start, end time.Time) []types.PartitionMetadata {
	if !end.After(start) {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	lo := sort.Search(len(idx.sorted), func(i int) bool {
		return idx.sorted[i].EndDate.After(start)
	})
	hi := idx.searchStart(end)
	if lo >= hi {
		return nil
	}
	return copyEntries(idx.sorted[lo:hi])
}

// FindPartitionForTime returns the partition containing t.
func (idx *Index) FindPartitionForTime(t time.Time) (types.PartitionMetadata, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	i := sort.Search(len(idx.sorted), func(i int) bool {
		return idx.sorted[i].EndDate.After(t)
	})
	if i < len(idx.sorted) && idx.sorted[i].Contains(t) {
		return *idx.sorted[i], true
	}
	return types.PartitionMetadata{}, false
}

// RemovePartition unregisters name and reports whether it was present.
func (idx *Index) RemovePartition(name string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	p, ok := idx.byName[name]
	if !ok {
		return false
	}
	delete(idx.byName, name)

	pos := idx.searchStart(p.StartDate)
	if pos < len(idx.sorted) && idx.sorted[pos] == p {
		idx.sorted = slices.Delete(idx.sorted, pos, pos+1)
	}
	return true
}

// UpdateSize records the size of name.
func (idx *Index) UpdateSize(name string, sizeBytes int64) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	p, ok := idx.byName[name]
	if ok {
		p.SizeBytes = sizeBytes
	}
	return ok
}

// All returns every partition in ascending StartDate order.
func (idx *Index) All() []types.PartitionMetadata {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return copyEntries(idx.sorted)
}

// Len returns the number of partitions.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.sorted)
}

// Reset replaces the contents with parts. On error the index is left unchanged.
func (idx *Index) Reset(parts []types.PartitionMetadata) error {
	fresh := NewIndex()
	ordered := slices.Clone(parts)
	slices.SortFunc(ordered, func(a, b types.PartitionMetadata) int {
		return a.StartDate.Compare(b.StartDate)
	})
	for _, p := range ordered {
		if err := validateRange(p); err != nil {
			return err
		}
		if err := fresh.insertLocked(p); err != nil {
			return err
		}
	}

	idx.mu.Lock()
	idx.byName = fresh.byName
	idx.sorted = fresh.sorted
	idx.mu.Unlock()
	return nil
}

// searchStart returns the first position whose StartDate is not before t.
func (idx *Index) searchStart(t time.Time) int {
	return sort.Search(len(idx.sorted), func(i int) bool {
		return !idx.sorted[i].StartDate.Before(t)
	})
}

func copyEntries(entries []*types.PartitionMetadata) []types.PartitionMetadata {
	out := make([]types.PartitionMetadata, len(entries))
	for i, p := range entries {
		out[i] = *p
	}
	return out
}

func validateRange(p types.PartitionMetadata) error {
	if p.Name == "" {
		return errors.NewConfigError("partition", "partition name is required")
	}
	if !p.EndDate.After(p.StartDate) {
		return errors.NewConfigError("partition", "partition %s has an empty range", p.Name).
			WithDetail("start", p.StartDate).
			WithDetail("end", p.EndDate)
	}
	return nil
}

func overlapError(p types.PartitionMetadata, existing *types.PartitionMetadata) error {
	return errors.NewError(errors.ErrCodePartitionOverlap,
		fmt.Sprintf("partition %s overlaps %s", p.Name, existing.Name)).
		WithComponent("partition").
		WithDetail("existing", existing.Name).
		WithDetail("existing_start", existing.StartDate).
		WithDetail("existing_end", existing.EndDate)
}
