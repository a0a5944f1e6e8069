package csg

import (
	"math"
	"testing"
)

func voxelSet(b Box) map[Vec3i]bool {
	out := map[Vec3i]bool{}
	ForEachVoxel(b, func(p Vec3i) { out[p] = true })
	return out
}

func TestForEachVoxelAxisAligned(t *testing.T) {
	got := Voxels(Box{X: 1, Y: 2, Z: 3, W: 2, H: 2, D: 2})
	if len(got) != 8 {
		t.Fatalf("expected 8 voxels, got %d", len(got))
	}
	if got[0] != (Vec3i{1, 2, 3}) || got[7] != (Vec3i{2, 3, 4}) {
		t.Fatalf("unexpected order: first=%v last=%v", got[0], got[7])
	}
	// x varies fastest
	if got[1] != (Vec3i{2, 2, 3}) {
		t.Fatalf("expected x-major inner loop, got %v", got[1])
	}
}

func TestForEachVoxelClampsSize(t *testing.T) {
	got := Voxels(Box{X: 5, Y: 5, Z: 5, W: 0, H: -3, D: 1})
	if len(got) != 1 || got[0] != (Vec3i{5, 5, 5}) {
		t.Fatalf("expected single voxel, got %v", got)
	}
}

func TestForEachVoxelTinyRotationIsAxisAligned(t *testing.T) {
	a := voxelSet(Box{W: 3, H: 1, D: 2})
	b := voxelSet(Box{W: 3, H: 1, D: 2, RotY: 0.0005, RotX: 360})
	if len(a) != len(b) {
		t.Fatalf("size mismatch %d vs %d", len(a), len(b))
	}
	for p := range a {
		if !b[p] {
			t.Fatalf("missing %v", p)
		}
	}
}

func TestForEachVoxelQuarterTurnSquareMatchesAxisAligned(t *testing.T) {
	a := voxelSet(Box{X: 4, Y: 0, Z: -2, W: 2, H: 3, D: 2})
	b := voxelSet(Box{X: 4, Y: 0, Z: -2, W: 2, H: 3, D: 2, RotY: 90})
	if len(a) != 12 || len(b) != 12 {
		t.Fatalf("expected 12/12 voxels, got %d/%d", len(a), len(b))
	}
	for p := range a {
		if !b[p] {
			t.Fatalf("rotated set missing %v", p)
		}
	}
}

func TestForEachVoxelDiamond(t *testing.T) {
	got := voxelSet(Box{W: 1, H: 1, D: 1, RotY: 45})
	want := []Vec3i{{0, 0, 0}, {1, 0, 0}, {-1, 0, 0}, {0, 0, 1}, {0, 0, -1}}
	if len(got) != len(want) {
		t.Fatalf("expected %d voxels, got %d: %v", len(want), len(got), got)
	}
	for _, p := range want {
		if !got[p] {
			t.Fatalf("missing %v", p)
		}
	}
}

func TestNormalizeDeg(t *testing.T) {
	cases := []struct{ in, want float32 }{
		{0, 0}, {370, 10}, {-190, 170}, {180, 180}, {-180, 180}, {float32(math.NaN()), 0}, {0.0001, 0},
	}
	for _, c := range cases {
		if got := normalizeDeg(c.in); math.Abs(float64(got-c.want)) > 1e-4 {
			t.Fatalf("normalizeDeg(%v)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestBounds(t *testing.T) {
	var b Bounds
	if b.Contains(Vec3i{}) {
		t.Fatalf("empty bounds contains nothing")
	}
	b.Include(Vec3i{1, 2, 3})
	b.Include(Vec3i{-1, 5, 0})
	if b.Min != (Vec3i{-1, 2, 0}) || b.Max != (Vec3i{1, 5, 3}) {
		t.Fatalf("bounds mismatch: %+v", b)
	}
	if !b.Contains(Vec3i{0, 3, 1}) || b.Contains(Vec3i{2, 3, 1}) {
		t.Fatalf("contains mismatch")
	}
	u := b.Union(Bounds{})
	if u != b {
		t.Fatalf("union with empty changed bounds")
	}
}

func TestMaterialAir(t *testing.T) {
	if !Material("").IsAir() || !Material("AIR").IsAir() || Stone.IsAir() {
		t.Fatalf("air detection mismatch")
	}
	if Material("").Canonical() != Air {
		t.Fatalf("canonical air mismatch")
	}
}
