package scene

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	TypeNode3D           = "Node3D"
	TypeCharacterBody3D  = "CharacterBody3D"
	TypeCamera3D         = "Camera3D"
	TypeCSGBlock         = "CSGBlock"
	TypeWorldEnvironment = "WorldEnvironment"
)

type propKind int

const (
	propString propKind = iota
	propFloat
	propSize
	propBool
	propColor
)

type PropSpec struct {
	Kind    propKind
	Default string
}

// NodeType declares the properties a node type carries. Open types accept
// undeclared string properties as free-form metadata.
type NodeType struct {
	ID    string
	Props map[string]PropSpec
	Open  bool
}

// Block limits bound the voxels a single CSGBlock may rasterize.
const (
	DefaultMaxBlockExtent = 64
	DefaultMaxBlockVolume = 64 * 64 * 16
)

type Registry struct {
	types     map[string]NodeType
	maxExtent int
	maxVolume int
}

var (
	errKeyEmpty    = errors.New("key empty")
	errKeyReserved = errors.New("key reserved")
)

func NewRegistry(types ...NodeType) *Registry {
	r := &Registry{
		types:     map[string]NodeType{},
		maxExtent: DefaultMaxBlockExtent,
		maxVolume: DefaultMaxBlockVolume,
	}
	for _, t := range types {
		r.types[t.ID] = t
	}
	return r
}

func transformProps() map[string]PropSpec {
	return map[string]PropSpec{
		"x":  {Kind: propFloat, Default: "0"},
		"y":  {Kind: propFloat, Default: "0"},
		"z":  {Kind: propFloat, Default: "0"},
		"rx": {Kind: propFloat, Default: "0"},
		"ry": {Kind: propFloat, Default: "0"},
		"rz": {Kind: propFloat, Default: "0"},
	}
}

func with(base map[string]PropSpec, extra map[string]PropSpec) map[string]PropSpec {
	for k, v := range extra {
		base[k] = v
	}
	return base
}

// DefaultRegistry knows the node types the runtime itself reads.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NodeType{ID: TypeNode3D, Props: transformProps(), Open: true},
		NodeType{ID: TypeCharacterBody3D, Props: with(transformProps(), map[string]PropSpec{
			"speed": {Kind: propFloat, Default: "6"},
		})},
		NodeType{ID: TypeCamera3D, Props: with(transformProps(), map[string]PropSpec{
			"fov": {Kind: propFloat, Default: "70"},
		})},
		NodeType{ID: TypeCSGBlock, Props: with(transformProps(), map[string]PropSpec{
			"sx":    {Kind: propSize, Default: "1"},
			"sy":    {Kind: propSize, Default: "1"},
			"sz":    {Kind: propSize, Default: "1"},
			"block": {Kind: propString, Default: "stone"},
		})},
		NodeType{ID: TypeWorldEnvironment, Props: map[string]PropSpec{
			"fog_enabled": {Kind: propBool, Default: "false"},
			"fog_color":   {Kind: propColor, Default: "#c0d0e0"},
			"fog_density": {Kind: propFloat, Default: "0.01"},
		}},
	)
}
// SetBlockLimits replaces the per-axis and total voxel caps for size
// properties. Non-positive values keep the current limit.
func (r *Registry) SetBlockLimits(maxExtent, maxVolume int) {
	if maxExtent > 0 {
		r.maxExtent = maxExtent
	}
	if maxVolume > 0 {
		r.maxVolume = maxVolume
	}
}

func (r *Registry) Lookup(typeID string) (NodeType, bool) {
	t, ok := r.types[typeID]
	return t, ok
}

// Defaults returns a fresh property map for a new node of the type.
func (r *Registry) Defaults(typeID string) map[string]string {
	out := map[string]string{}
	t, ok := r.types[typeID]
	if !ok {
		return out
	}
	for k, spec := range t.Props {
		out[k] = spec.Default
	}
	return out
}

func (r *Registry) ValidateSet(typeID, key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	t, ok := r.types[typeID]
	if !ok {
		return fmt.Errorf("unknown type %q", typeID)
	}
	spec, declared := t.Props[key]
	if !declared {
		if t.Open {
			return nil
		}
		return fmt.Errorf("%s has no property %q", typeID, key)
	}
	if err := spec.validate(key, value); err != nil {
		return err
	}
	if spec.Kind == propSize {
		n, _ := strconv.Atoi(strings.TrimSpace(value))
		if n > r.maxExtent {
			return fmt.Errorf("%s: size %d exceeds max extent %d", key, n, r.maxExtent)
		}
	}
	return nil
}

// ValidateVolume rejects block dimensions whose voxel count is over the cap.
func (r *Registry) ValidateVolume(w, h, d int) error {
	if v := w * h * d; v > r.maxVolume {
		return fmt.Errorf("block volume %d exceeds max %d", v, r.maxVolume)
	}
	return nil
}

func (r *Registry) ValidateRemove(typeID, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if _, ok := r.types[typeID]; !ok {
		return fmt.Errorf("unknown type %q", typeID)
	}
	return nil
}

func validateKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errKeyEmpty
	}
	if strings.HasPrefix(key, "@") {
		return errKeyReserved
	}
	return nil
}

func (p PropSpec) validate(key, value string) error {
	switch p.Kind {
	case propFloat:
		if _, ok := parseFinite(value); !ok {
			return fmt.Errorf("%s: not a finite number", key)
		}
	case propSize:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 1 {
			return fmt.Errorf("%s: size must be an integer >= 1", key)
		}
	case propBool:
		if _, err := strconv.ParseBool(strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("%s: not a bool", key)
		}
	case propColor:
		if !isHexColor(value) {
			return fmt.Errorf("%s: expected #rrggbb", key)
		}
	case propString:
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s: empty", key)
		}
	}
	return nil
}

func parseFinite(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func isHexColor(s string) bool {
	if len(s) != 7 || s[0] != '#' {
		return false
	}
	for _, c := range s[1:] {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
