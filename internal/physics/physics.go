package physics

import "math"

const (
	FloorY       float32 = 40
	DefaultSpeed float32 = 6
	SprintFactor float32 = 1.6
	JumpVelocity float32 = 8
	Gravity      float32 = 24
	AirControl   float32 = 4
	MaxStep      float32 = 0.25

	MaxPitch float32 = 89
)

// State is the movement state of one avatar. Values are copied, never shared.
type State struct {
	X       float32 `json:"x"`
	Y       float32 `json:"y"`
	Z       float32 `json:"z"`
	VelX    float32 `json:"vx"`
	VelY    float32 `json:"vy"`
	VelZ    float32 `json:"vz"`
	OnFloor bool    `json:"on_floor"`
}

// Controls is one step's worth of sanitized input.
type Controls struct {
	MoveX  float32
	MoveZ  float32
	YawDeg float32
	Speed  float32
	Jump   bool
	Sprint bool
}

// Func advances a state by dt seconds. Client and server must use the same Func.
type Func func(s State, c Controls, dt float32) State

// Resting returns the default state an avatar starts from when nothing better is known.
func Resting(x, z float32) State {
	return State{X: x, Y: FloorY, Z: z, OnFloor: true}
}

func (s State) Position() (float32, float32, float32) { return s.X, s.Y, s.Z }

// Simulate is the reference movement step.
//
// All arithmetic is float32 with explicit conversions around every product so
// the compiler cannot fuse multiply-adds differently on client and server.
func Simulate(s State, c Controls, dt float32) State {
	dt = finite(dt)
	if dt < 0 {
		dt = 0
	}
	if dt > MaxStep {
		dt = MaxStep
	}
	mx, mz := NormalizeMove(c.MoveX, c.MoveZ)
	speed := finite(c.Speed)
	if speed <= 0 {
		speed = DefaultSpeed
	}
	if c.Sprint {
		speed = float32(speed * SprintFactor)
	}

	yaw := float64(NormalizeYaw(c.YawDeg)) * math.Pi / 180
	sin := float32(math.Sin(yaw))
	cos := float32(math.Cos(yaw))

	// forward = (sin, cos), right = (cos, -sin)
	dirX := float32(float32(mx*cos) + float32(mz*sin))
	dirZ := float32(float32(mz*cos) - float32(mx*sin))
	targetX := float32(dirX * speed)
	targetZ := float32(dirZ * speed)

	out := s
	out.X, out.Y, out.Z = finite(s.X), finite(s.Y), finite(s.Z)
	out.VelX, out.VelY, out.VelZ = finite(s.VelX), finite(s.VelY), finite(s.VelZ)

	if out.OnFloor {
		out.VelX = targetX
		out.VelZ = targetZ
	} else {
		blend := float32(AirControl * dt)
		if blend > 1 {
			blend = 1
		}
		out.VelX = float32(out.VelX + float32(float32(targetX-out.VelX)*blend))
		out.VelZ = float32(out.VelZ + float32(float32(targetZ-out.VelZ)*blend))
	}

	if c.Jump && out.OnFloor {
		out.VelY = JumpVelocity
		out.OnFloor = false
	}
	if !out.OnFloor {
		out.VelY = float32(out.VelY - float32(Gravity*dt))
	}

	out.X = float32(out.X + float32(out.VelX*dt))
	out.Y = float32(out.Y + float32(out.VelY*dt))
	out.Z = float32(out.Z + float32(out.VelZ*dt))

	if out.Y <= FloorY {
		out.Y = FloorY
		if out.VelY < 0 {
			out.VelY = 0
		}
		out.OnFloor = out.VelY == 0
	} else {
		out.OnFloor = false
	}
	return out
}

// NormalizeYaw wraps degrees into (-180, 180]. Non-finite input becomes 0.
func NormalizeYaw(deg float32) float32 {
	d := float64(finite(deg))
	d = math.Mod(d, 360)
	if d <= -180 {
		d += 360
	} else if d > 180 {
		d -= 360
	}
	return float32(d)
}

// ClampPitch limits pitch to [-89, 89]. Non-finite input becomes 0.
func ClampPitch(deg float32) float32 {
	d := finite(deg)
	if d > MaxPitch {
		return MaxPitch
	}
	if d < -MaxPitch {
		return -MaxPitch
	}
	return d
}

// NormalizeMove clamps each axis to [-1, 1] and scales the vector back to unit
// length when it is longer.
func NormalizeMove(x, z float32) (float32, float32) {
	x, z = clampUnit(finite(x)), clampUnit(finite(z))
	l2 := float32(float32(x*x) + float32(z*z))
	if l2 > 1 {
		inv := float32(1 / math.Sqrt(float64(l2)))
		x = float32(x * inv)
		z = float32(z * inv)
	}
	return x, z
}

func clampUnit(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

func finite(v float32) float32 {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return v
}
