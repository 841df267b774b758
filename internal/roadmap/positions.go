package roadmap

import "sort"

// sibling is implemented by every entity that is ordered inside a parent.
type sibling[T any] interface {
	*T
	key() string
	pos() int
	setPos(int)
}

func (m *Milestone) key() string { return m.ID }
func (m *Milestone) pos() int { return m.Position }
func (m *Milestone) setPos(p int) { m.Position = p }
func (e *Epic) key() string { return e.ID }
func (e *Epic) pos() int { return e.Position }
func (e *Epic) setPos(p int) { e.Position = p }
func (f *Feature) key() string { return f.ID }
func (f *Feature) pos() int { return f.Position }
func (f *Feature) setPos(p int) { f.Position = p }
func (t *Task) key() string { return t.ID }
func (t *Task) pos() int { return t.Position }
func (t *Task) setPos(p int) { t.Position = p }

// insertAt splices item into siblings at pos. When pos lands inside the
// current range every sibling at or after it moves up by one; otherwise the
// item is appended at the end. The input slice is not modified.
func insertAt[T any, P sibling[T]](siblings []T, item T, pos int) []T {
	n := len(siblings)
	out := make([]T, 0, n+1)
	if pos < 0 {
		pos = 0
	}
	if pos >= n {
		out = append(out, siblings...)
		P(&item).setPos(n)
		return append(out, item)
	}

	P(&item).setPos(pos)
	inserted := false
	for _, existing := range sortedCopy[T, P](siblings) {
		if P(&existing).pos() >= pos {
			if !inserted {
				out = append(out, item)
				inserted = true
			}
			P(&existing).setPos(P(&existing).pos() + 1)
		}
		out = append(out, existing)
	}
	if !inserted {
		out = append(out, item)
	}
	return out
}

// removeAt drops the sibling with the given ID and closes the gap it leaves.
// The boolean is false when no sibling matched.
func removeAt[T any, P sibling[T]](siblings []T, id string) ([]T, bool) {
	out := make([]T, 0, len(siblings))
	found := false
	for _, existing := range siblings {
		if P(&existing).key() == id {
			found = true
			continue
		}
		out = append(out, existing)
	}
	if !found {
		return siblings, false
	}
	return normalize[T, P](out), true
}

// normalize orders siblings by position and renumbers them 0..n-1.
func normalize[T any, P sibling[T]](siblings []T) []T {
	out := sortedCopy[T, P](siblings)
	for i := range out {
		P(&out[i]).setPos(i)
	}
	return out
}

func replaceByID[T any, P sibling[T]](siblings []T, item T) ([]T, bool) {
	id := P(&item).key()
	for i := range siblings {
		if P(&siblings[i]).key() == id {
			out := append([]T(nil), siblings...)
			out[i] = item
			return out, true
		}
	}
	return siblings, false
}

func sortedCopy[T any, P sibling[T]](siblings []T) []T {
	out := append([]T(nil), siblings...)
	sort.SliceStable(out, func(i, j int) bool {
		return P(&out[i]).pos() < P(&out[j]).pos()
	})
	return out
}

// Normalize renumbers every sibling set in the tree so positions are
// contiguous from zero. Loaded trees are normalized before use.
func Normalize(tree Tree) Tree {
	tree.Milestones = normalize[Milestone](tree.Milestones)
	tree.Epics = normalize[Epic](tree.Epics)
	for i := range tree.Epics {
		tree.Epics[i].Features = normalize[Feature](tree.Epics[i].Features)
		for j := range tree.Epics[i].Features {
			tree.Epics[i].Features[j].Tasks = normalize[Task](tree.Epics[i].Features[j].Tasks)
		}
	}
	return tree
}

// PositionsValid reports whether a sibling set is contiguous and unique from zero.
func PositionsValid(positions []int) bool {
	seen := make([]bool, len(positions))
	for _, p := range positions {
		if p < 0 || p >= len(positions) || seen[p] {
			return false
		}
		seen[p] = true
	}
	return true
}
