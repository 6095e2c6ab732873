package grouper

import (
	"sort"

	"github.com/spaolacci/murmur3"

	"github.com/arkilian/dissolve/pkg/types"
)

// Options controls ordering, null handling and categorical expansion.
type Options struct {
	// Sort emits groups in ascending key order. Otherwise groups appear in
	// order of first occurrence.
	Sort bool

	// DropNA excludes rows whose key has any missing component.
	DropNA bool

	// Observed restricts categorical keys to values present in the data.
	// When false, every combination of declared categories is emitted,
	// including combinations with no rows.
	Observed bool
}

// DefaultOptions returns sort=true, dropna=true, observed=false.
func DefaultOptions() Options {
	return Options{Sort: true, DropNA: true}
}

// Group is a key tuple and the rows sharing it, in table order. Synthetic
// categorical groups have no rows.
type Group struct {
	Key  []any
	Rows []int
}

// Partition is the ordered result of grouping a table.
type Partition struct {
	// Keys describes each key component. Empty when no key was requested.
	Keys   []KeyColumn
	Groups []Group
}

// Grouper partitions a table into ordered groups.
type Grouper interface {
	Group(t *types.Table, spec KeySpec, opts Options) (*Partition, error)
}

// NullKeyCapable is implemented by groupers that can tell whether they
// represent missing key values as a group of their own.
type NullKeyCapable interface {
	SupportsNullKeys() bool
}

// HashGrouper buckets rows by a murmur3 hash of their canonical key bytes.
type HashGrouper struct {
	// NoNullKeys makes the grouper always drop rows with missing keys,
	// regardless of Options.DropNA.
	NoNullKeys bool
}

// NewHashGrouper creates a grouper that supports missing-key groups.
func NewHashGrouper() *HashGrouper {
	return &HashGrouper{}
}

// SupportsNullKeys implements NullKeyCapable.
func (g *HashGrouper) SupportsNullKeys() bool {
	return !g.NoNullKeys
}

// Group partitions t according to spec and opts.
func (g *HashGrouper) Group(t *types.Table, spec KeySpec, opts Options) (*Partition, error) {
	cols, err := resolveKeys(t, spec)
	if err != nil {
		return nil, err
	}

	n := t.NumRows()
	if len(cols) == 0 {
		p := &Partition{}
		if n > 0 {
			rows := make([]int, n)
			for i := range rows {
				rows[i] = i
			}
			p.Groups = []Group{{Rows: rows}}
		}
		return p, nil
	}

	p := &Partition{Keys: describeKeys(cols, len(spec.Levels) > 0)}
	dropNA := opts.DropNA || g.NoNullKeys
	idx := newGroupIndex()

	for row := 0; row < n; row++ {
		key := make([]any, len(cols))
		missing := false
		for i, c := range cols {
			key[i] = c.Values[row]
			if types.IsNull(key[i]) {
				key[i] = nil
				missing = true
			}
		}
		if missing && dropNA {
			continue
		}
		pos := idx.lookupOrAdd(key)
		idx.groups[pos].Rows = append(idx.groups[pos].Rows, row)
	}
	p.Groups = idx.groups

	if !opts.Observed && hasCategorical(p.Keys) {
		p.Groups = expandCategories(p.Keys, idx)
	}
	if opts.Sort {
		sortGroups(p.Keys, p.Groups)
	}
	return p, nil
}

// groupIndex finds groups by key tuple. Buckets are keyed by the 128-bit
// hash; tuples sharing a hash are told apart with types.Compare.
type groupIndex struct {
	buckets map[[2]uint64][]int
	groups  []Group
	buf     []byte
}

func newGroupIndex() *groupIndex {
	return &groupIndex{buckets: make(map[[2]uint64][]int)}
}

func (x *groupIndex) hash(key []any) [2]uint64 {
	x.buf = x.buf[:0]
	for _, v := range key {
		x.buf = types.AppendKey(x.buf, v)
	}
	h1, h2 := murmur3.Sum128(x.buf)
	return [2]uint64{h1, h2}
}

func (x *groupIndex) find(key []any) (int, [2]uint64) {
	h := x.hash(key)
	for _, pos := range x.buckets[h] {
		if equalKeys(x.groups[pos].Key, key) {
			return pos, h
		}
	}
	return -1, h
}

func (x *groupIndex) lookupOrAdd(key []any) int {
	pos, h := x.find(key)
	if pos >= 0 {
		return pos
	}
	pos = len(x.groups)
	x.groups = append(x.groups, Group{Key: key})
	x.buckets[h] = append(x.buckets[h], pos)
	return pos
}

func equalKeys(a, b []any) bool {
	for i := range a {
		if types.Compare(a[i], b[i]) != 0 {
			return false
		}
	}
	return true
}

func hasCategorical(keys []KeyColumn) bool {
	for _, k := range keys {
		if k.IsCategorical() {
			return true
		}
	}
	return false
}

// expandCategories builds the full candidate key domain: the cross product
// of each categorical component's declared categories with the observed
// values of the other components. Observed groups come first in their
// original order, followed by the synthetic empty ones in domain order.
func expandCategories(keys []KeyColumn, idx *groupIndex) []Group {
	domains := make([][]any, len(keys))
	for i, k := range keys {
		observed := distinctComponent(idx.groups, i)
		if !k.IsCategorical() {
			domains[i] = observed
			continue
		}
		domain := append([]any(nil), k.Categories...)
		for _, v := range observed {
			if v == nil {
				domain = append(domain, nil)
				break
			}
		}
		domains[i] = domain
	}

	out := append([]Group(nil), idx.groups...)
	observedCount := len(idx.groups)
	crossProduct(domains, func(key []any) {
		if pos, _ := idx.find(key); pos >= 0 && pos < observedCount {
			return
		}
		out = append(out, Group{Key: append([]any(nil), key...)})
	})
	return out
}

func distinctComponent(groups []Group, pos int) []any {
	seen := newGroupIndex()
	var values []any
	for _, g := range groups {
		k := []any{g.Key[pos]}
		if p, _ := seen.find(k); p >= 0 {
			continue
		}
		seen.lookupOrAdd(k)
		values = append(values, g.Key[pos])
	}
	return values
}

// crossProduct calls fn for every tuple of the domains, first component
// outermost. fn must not retain the slice.
func crossProduct(domains [][]any, fn func([]any)) {
	for _, d := range domains {
		if len(d) == 0 {
			return
		}
	}
	key := make([]any, len(domains))
	var walk func(i int)
	walk = func(i int) {
		if i == len(domains) {
			fn(key)
			return
		}
		for _, v := range domains[i] {
			key[i] = v
			walk(i + 1)
		}
	}
	walk(0)
}

// sortGroups orders groups by key tuple. Categorical components follow
// category order; missing values sort last.
func sortGroups(keys []KeyColumn, groups []Group) {
	sort.SliceStable(groups, func(a, b int) bool {
		for i, k := range keys {
			va, vb := groups[a].Key[i], groups[b].Key[i]
			var c int
			if k.IsCategorical() {
				c = compareCategory(k, va, vb)
			} else {
				c = types.Compare(va, vb)
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
}

func compareCategory(k KeyColumn, a, b any) int {
	pa, pb := categoryPos(k, a), categoryPos(k, b)
	switch {
	case pa == pb:
		return 0
	case pa < pb:
		return -1
	default:
		return 1
	}
}

func categoryPos(k KeyColumn, v any) int {
	if v == nil {
		return len(k.Categories)
	}
	for i, c := range k.Categories {
		if types.Compare(c, v) == 0 {
			return i
		}
	}
	return len(k.Categories)
}
