package csg

import "math"

const (
	rotationEpsilonDeg = 1e-3
	satEpsilon         = 1e-9
	touchTolerance     = 1e-6
)

// Box is a block-shaped CSG primitive: an integer origin corner, a size in
// cells, and Euler rotations in degrees about the box center.
type Box struct {
	X    int     `json:"x"`
	Y    int     `json:"y"`
	Z    int     `json:"z"`
	W    int     `json:"sx"`
	H    int     `json:"sy"`
	D    int     `json:"sz"`
	RotX float32 `json:"rx"`
	RotY float32 `json:"ry"`
	RotZ float32 `json:"rz"`
}

// Normalized clamps sizes to at least one cell and wraps rotations into
// (-180, 180], zeroing any that are within tolerance of zero.
func (b Box) Normalized() Box {
	b.W = max(1, b.W)
	b.H = max(1, b.H)
	b.D = max(1, b.D)
	b.RotX = normalizeDeg(b.RotX)
	b.RotY = normalizeDeg(b.RotY)
	b.RotZ = normalizeDeg(b.RotZ)
	return b
}

func (b Box) Rotated() bool {
	n := b.Normalized()
	return n.RotX != 0 || n.RotY != 0 || n.RotZ != 0
}

// ForEachVoxel visits every integer cell covered by the box, in z, y, x order.
// Axis-aligned boxes cover [X, X+W) x [Y, Y+H) x [Z, Z+D). Rotated boxes cover
// every cell whose unit cube overlaps the oriented box with non-zero volume.
func ForEachVoxel(b Box, visit func(Vec3i)) {
	if visit == nil {
		return
	}
	b = b.Normalized()
	if b.RotX == 0 && b.RotY == 0 && b.RotZ == 0 {
		for z := b.Z; z < b.Z+b.D; z++ {
			for y := b.Y; y < b.Y+b.H; y++ {
				for x := b.X; x < b.X+b.W; x++ {
					visit(Vec3i{X: x, Y: y, Z: z})
				}
			}
		}
		return
	}

	o := newOBB(b)
	lo, hi := o.cellRange()
	for z := lo.Z; z <= hi.Z; z++ {
		for y := lo.Y; y <= hi.Y; y++ {
			for x := lo.X; x <= hi.X; x++ {
				if o.overlapsCell(x, y, z) {
					visit(Vec3i{X: x, Y: y, Z: z})
				}
			}
		}
	}
}

// Voxels collects ForEachVoxel output.
func Voxels(b Box) []Vec3i {
	var out []Vec3i
	ForEachVoxel(b, func(p Vec3i) { out = append(out, p) })
	return out
}

func normalizeDeg(deg float32) float32 {
	d := float64(deg)
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0
	}
	d = math.Mod(d, 360)
	if d > 180 {
		d -= 360
	} else if d <= -180 {
		d += 360
	}
	if math.Abs(d) < rotationEpsilonDeg {
		return 0
	}
	return float32(d)
}

type obb struct {
	center [3]float64
	half   [3]float64
	// axis[i] is the i-th local axis expressed in world coordinates.
	axis [3][3]float64
}

func newOBB(b Box) obb {
	rx := float64(b.RotX) * math.Pi / 180
	ry := float64(b.RotY) * math.Pi / 180
	rz := float64(b.RotZ) * math.Pi / 180
	cx, sx := math.Cos(rx), math.Sin(rx)
	cy, sy := math.Cos(ry), math.Sin(ry)
	cz, sz := math.Cos(rz), math.Sin(rz)

	// R = Rz * Ry * Rx; columns are the local axes.
	var o obb
	o.axis[0] = [3]float64{cz * cy, sz * cy, -sy}
	o.axis[1] = [3]float64{cz*sy*sx - sz*cx, sz*sy*sx + cz*cx, cy * sx}
	o.axis[2] = [3]float64{cz*sy*cx + sz*sx, sz*sy*cx - cz*sx, cy * cx}
	o.half = [3]float64{float64(b.W) / 2, float64(b.H) / 2, float64(b.D) / 2}
	o.center = [3]float64{
		float64(b.X) + o.half[0],
		float64(b.Y) + o.half[1],
		float64(b.Z) + o.half[2],
	}
	return o
}

// radius is the half-length of the box projected onto world axis j.
func (o obb) radius(j int) float64 {
	return math.Abs(o.axis[0][j])*o.half[0] +
		math.Abs(o.axis[1][j])*o.half[1] +
		math.Abs(o.axis[2][j])*o.half[2]
}

func (o obb) cellRange() (Vec3i, Vec3i) {
	var lo, hi [3]int
	for j := 0; j < 3; j++ {
		r := o.radius(j)
		lo[j] = int(math.Floor(o.center[j]-r)) - 1
		hi[j] = int(math.Ceil(o.center[j]+r)) + 1
	}
	return Vec3i{X: lo[0], Y: lo[1], Z: lo[2]}, Vec3i{X: hi[0], Y: hi[1], Z: hi[2]}
}

// overlapsCell runs a separating-axis test between the box and the unit cube
// at cell (x, y, z). Touching faces do not count as overlap.
func (o obb) overlapsCell(x, y, z int) bool {
	t := [3]float64{
		float64(x) + 0.5 - o.center[0],
		float64(y) + 0.5 - o.center[1],
		float64(z) + 0.5 - o.center[2],
	}
	// r[i][j] = component of local axis i along world axis j
	var r, ar [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = o.axis[i][j]
			ar[i][j] = math.Abs(r[i][j]) + satEpsilon
		}
	}
	const f = 0.5
	separated := func(dist, ra, rb float64) bool {
		return math.Abs(dist) >= ra+rb-touchTolerance
	}

	// local axes of the box
	for i := 0; i < 3; i++ {
		dist := r[i][0]*t[0] + r[i][1]*t[1] + r[i][2]*t[2]
		if separated(dist, o.half[i], f*(ar[i][0]+ar[i][1]+ar[i][2])) {
			return false
		}
	}
	// world axes of the cell
	for j := 0; j < 3; j++ {
		ra := o.half[0]*ar[0][j] + o.half[1]*ar[1][j] + o.half[2]*ar[2][j]
		if separated(t[j], ra, f) {
			return false
		}
	}
	// cross products local_i x world_j
	for i := 0; i < 3; i++ {
		i1, i2 := (i+1)%3, (i+2)%3
		for j := 0; j < 3; j++ {
			j1, j2 := (j+1)%3, (j+2)%3
			// axis L = u_i x e_j; project t, the box and the cell onto it.
			l := cross(o.axis[i], unit(j))
			if l[0]*l[0]+l[1]*l[1]+l[2]*l[2] < 1e-12 {
				continue
			}
			dist := l[0]*t[0] + l[1]*t[1] + l[2]*t[2]
			ra := o.half[i1]*math.Abs(dot(o.axis[i1], l)) + o.half[i2]*math.Abs(dot(o.axis[i2], l))
			rb := f*math.Abs(l[j1]) + f*math.Abs(l[j2])
			if separated(dist, ra, rb) {
				return false
			}
		}
	}
	return true
}

func unit(j int) [3]float64 {
	var e [3]float64
	e[j] = 1
	return e
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func dot(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}
