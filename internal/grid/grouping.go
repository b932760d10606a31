package grid

import "sort"

// Group is a run of contiguous same-row cells sharing a non-empty group tag.
// Groups are derived for display only and never stored.
type Group struct {
	GroupID string `json:"groupId"`
	Row     int    `json:"row"`
	Start   int    `json:"start"` // first position
	End     int    `json:"end"`   // last position, inclusive
}

// Len returns the number of cells in the group.
func (g Group) Len() int { return g.End - g.Start + 1 }

// BuildGroups collapses cells into groups. The result depends only on the set
// of cells, not on their order in the input.
func BuildGroups(cells []Cell, width int) []Group {
	if len(cells) == 0 || width <= 0 {
		return nil
	}
	sorted := make([]Cell, len(cells))
	copy(sorted, cells)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })

	groups := make([]Group, 0, len(sorted))
	for i := 0; i < len(sorted); {
		seed := sorted[i]
		g := Group{GroupID: seed.GroupID, Row: seed.Row(width), Start: seed.Position, End: seed.Position}
		j := i + 1
		if seed.GroupID != "" {
			for ; j < len(sorted); j++ {
				c := sorted[j]
				if c.Position != g.End+1 || c.Position%width == 0 || c.GroupID != seed.GroupID {
					break
				}
				g.End = c.Position
			}
		}
		groups = append(groups, g)
		i = j
	}
	return groups
}

// GroupIndex is a built set of groups with a per-position lookup.
type GroupIndex struct {
	Groups []Group
	width  int
	byPos  map[int]int
}

// NewGroupIndex builds groups for cells and indexes them by position.
func NewGroupIndex(cells []Cell, width int) *GroupIndex {
	groups := BuildGroups(cells, width)
	idx := &GroupIndex{Groups: groups, width: width, byPos: make(map[int]int, len(cells))}
	for i, g := range groups {
		for p := g.Start; p <= g.End; p++ {
			idx.byPos[p] = i
		}
	}
	return idx
}

// GroupAt returns the group covering position, if any.
func (x *GroupIndex) GroupAt(position int) (Group, bool) {
	i, ok := x.byPos[position]
	if !ok {
		return Group{}, false
	}
	return x.Groups[i], true
}

// Width returns the row width the index was built for.
func (x *GroupIndex) Width() int { return x.width }
