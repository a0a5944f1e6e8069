package scene

import "testing"

func TestValidateSet(t *testing.T) {
	r := DefaultRegistry()
	cases := []struct {
		typeID, key, value string
		ok                 bool
	}{
		{TypeCSGBlock, "x", "1.5", true},
		{TypeCSGBlock, "x", "NaN", false},
		{TypeCSGBlock, "sx", "3", true},
		{TypeCSGBlock, "sx", "0", false},
		{TypeCSGBlock, "sx", "1.5", false},
		{TypeCSGBlock, "sy", "64", true},
		{TypeCSGBlock, "sy", "65", false},
		{TypeCSGBlock, "sz", "2000", false},
		{TypeCSGBlock, "block", "", false},
		{TypeCSGBlock, "color", "red", false},
		{TypeNode3D, "color", "red", true},
		{TypeNode3D, "@internal", "1", false},
		{TypeNode3D, " ", "1", false},
		{TypeWorldEnvironment, "fog_enabled", "true", true},
		{TypeWorldEnvironment, "fog_enabled", "maybe", false},
		{TypeWorldEnvironment, "fog_color", "#00ff7F", true},
		{TypeWorldEnvironment, "fog_color", "00ff7f", false},
		{"Unknown", "x", "1", false},
	}
	for _, c := range cases {
		err := r.ValidateSet(c.typeID, c.key, c.value)
		if (err == nil) != c.ok {
			t.Fatalf("ValidateSet(%s,%q,%q) err=%v want ok=%v", c.typeID, c.key, c.value, err, c.ok)
		}
	}
}

func TestDefaultsAreCopies(t *testing.T) {
	r := DefaultRegistry()
	a := r.Defaults(TypeCSGBlock)
	a["sx"] = "9"
	if r.Defaults(TypeCSGBlock)["sx"] != "1" {
		t.Fatalf("defaults must not be shared")
	}
}

func TestBlockLimits(t *testing.T) {
	r := DefaultRegistry()
	if err := r.ValidateVolume(64, 64, 16); err != nil {
		t.Fatalf("default cap should allow 64x64x16: %v", err)
	}
	if err := r.ValidateVolume(64, 64, 17); err == nil {
		t.Fatalf("expected volume error")
	}
	r.SetBlockLimits(4, 0)
	if err := r.ValidateSet(TypeCSGBlock, "sx", "5"); err == nil {
		t.Fatalf("expected extent error")
	}
	if err := r.ValidateVolume(64, 64, 16); err != nil {
		t.Fatalf("zero volume must keep the previous cap: %v", err)
	}
}
