package scene

import (
	"slices"

	"voxelscene.dev/internal/csg"
	"voxelscene.dev/internal/protocol"
)

// BlockStore is sparse block content. Missing positions are air.
type BlockStore struct {
	cells map[csg.Vec3i]csg.Material
}

func NewBlockStore() *BlockStore {
	return &BlockStore{cells: map[csg.Vec3i]csg.Material{}}
}

func (b *BlockStore) MaterialAt(p csg.Vec3i) csg.Material {
	if m, ok := b.cells[p]; ok {
		return m
	}
	return csg.Air
}

func (b *BlockStore) Len() int { return len(b.cells) }

// All returns every non-air block in position order.
func (b *BlockStore) All() []protocol.BlockChange {
	out := make([]protocol.BlockChange, 0, len(b.cells))
	for p, m := range b.cells {
		out = append(out, protocol.BlockChange{Pos: p, Material: m})
	}
	sortChanges(out)
	return out
}

func (b *BlockStore) set(p csg.Vec3i, m csg.Material) {
	if m.IsAir() {
		delete(b.cells, p)
		return
	}
	b.cells[p] = m
}

type footprint struct {
	box      csg.Box
	material csg.Material
}

// rasterize brings the block store in line with the current CSG nodes and
// returns what changed. Overlapping nodes resolve to the highest node id.
func (s *Scene) rasterize() []protocol.BlockChange {
	next := map[uint64]footprint{}
	dirty := false
	for _, id := range s.tree.sortedIDs() {
		n := s.tree.get(id)
		if n.TypeID != TypeCSGBlock {
			continue
		}
		box, mat := s.csgBox(n)
		fp := footprint{box: box, material: mat}
		next[id] = fp
		if old, ok := s.footprints[id]; !ok || old != fp {
			dirty = true
		}
	}
	if len(next) != len(s.footprints) {
		dirty = true
	}
	if !dirty {
		return nil
	}

	want := map[csg.Vec3i]csg.Material{}
	ids := make([]uint64, 0, len(next))
	for id := range next {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		fp := next[id]
		csg.ForEachVoxel(fp.box, func(p csg.Vec3i) { want[p] = fp.material })
	}

	var changes []protocol.BlockChange
	for p := range s.blocks.cells {
		if _, ok := want[p]; !ok {
			changes = append(changes, protocol.BlockChange{Pos: p, Material: csg.Air})
		}
	}
	for p, m := range want {
		if s.blocks.MaterialAt(p) != m {
			changes = append(changes, protocol.BlockChange{Pos: p, Material: m})
		}
	}
	for _, c := range changes {
		s.blocks.set(c.Pos, c.Material)
	}
	s.footprints = next
	sortChanges(changes)
	return changes
}

func sortChanges(c []protocol.BlockChange) {
	slices.SortFunc(c, func(a, b protocol.BlockChange) int {
		if a.Pos.Y != b.Pos.Y {
			return a.Pos.Y - b.Pos.Y
		}
		if a.Pos.Z != b.Pos.Z {
			return a.Pos.Z - b.Pos.Z
		}
		return a.Pos.X - b.Pos.X
	})
}
