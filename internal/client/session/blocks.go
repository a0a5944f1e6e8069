package session

import (
	"voxelscene.dev/internal/csg"
	"voxelscene.dev/internal/protocol"
)

// BlockCache is the client's copy of the block content, fed by BLOCK_DELTA
// messages.
type BlockCache struct {
	cells    map[csg.Vec3i]csg.Material
	revision uint64
}

func NewBlockCache() *BlockCache {
	return &BlockCache{cells: map[csg.Vec3i]csg.Material{}}
}

func (c *BlockCache) MaterialAt(p csg.Vec3i) csg.Material {
	if m, ok := c.cells[p]; ok {
		return m
	}
	return csg.Air
}

func (c *BlockCache) Len() int         { return len(c.cells) }
func (c *BlockCache) Revision() uint64 { return c.revision }

// Apply patches the cache. A full delta replaces it.
func (c *BlockCache) Apply(d *protocol.BlockDeltaMsg) csg.Bounds {
	var touched csg.Bounds
	if d.Full {
		for p := range c.cells {
			touched.Include(p)
		}
		c.cells = make(map[csg.Vec3i]csg.Material, len(d.Changes))
	}
	for _, ch := range d.Changes {
		touched.Include(ch.Pos)
		if ch.Material.IsAir() {
			delete(c.cells, ch.Pos)
			continue
		}
		c.cells[ch.Pos] = ch.Material
	}
	if d.Revision > c.revision || d.Full {
		c.revision = d.Revision
	}
	return touched
}

func (c *BlockCache) Reset() {
	c.cells = map[csg.Vec3i]csg.Material{}
	c.revision = 0
}
