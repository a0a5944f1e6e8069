package csg

import "strings"

type Vec3i struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (v Vec3i) Add(o Vec3i) Vec3i { return Vec3i{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

// Material names a block kind. The empty string and "air" are both empty space.
type Material string

const (
	Air   Material = "air"
	Stone Material = "stone"
)

func (m Material) IsAir() bool {
	return m == "" || strings.EqualFold(string(m), string(Air))
}

// Canonical maps every spelling of empty space to Air.
func (m Material) Canonical() Material {
	if m.IsAir() {
		return Air
	}
	return m
}

// Bounds is an inclusive integer AABB. The zero value is empty.
type Bounds struct {
	Min   Vec3i `json:"min"`
	Max   Vec3i `json:"max"`
	Valid bool  `json:"valid"`
}

func (b *Bounds) Include(p Vec3i) {
	if !b.Valid {
		b.Min, b.Max, b.Valid = p, p, true
		return
	}
	b.Min.X = min(b.Min.X, p.X)
	b.Min.Y = min(b.Min.Y, p.Y)
	b.Min.Z = min(b.Min.Z, p.Z)
	b.Max.X = max(b.Max.X, p.X)
	b.Max.Y = max(b.Max.Y, p.Y)
	b.Max.Z = max(b.Max.Z, p.Z)
}

func (b Bounds) Contains(p Vec3i) bool {
	return b.Valid &&
		p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Union returns the smallest bounds covering both.
func (b Bounds) Union(o Bounds) Bounds {
	if !o.Valid {
		return b
	}
	if !b.Valid {
		return o
	}
	b.Include(o.Min)
	b.Include(o.Max)
	return b
}
