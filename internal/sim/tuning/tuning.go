package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz int    `yaml:"tick_rate_hz"`
	SceneID    string `yaml:"scene_id"`

	Movement   Movement   `yaml:"movement"`
	Prediction Prediction `yaml:"prediction"`
	Edit       Edit       `yaml:"edit"`
	Blocks     Blocks     `yaml:"blocks"`
	Lanes      Lanes      `yaml:"lanes"`
}

type Movement struct {
	DefaultSpeed float32 `yaml:"default_speed"`
	SpawnSpacing float32 `yaml:"spawn_spacing"`
}

type Prediction struct {
	EyeHeight       float32 `yaml:"eye_height"`
	CorrectionDecay float32 `yaml:"correction_decay"`
	HardSnapDist    float32 `yaml:"hard_snap_dist"`
	MaxFrameDtMs    int     `yaml:"max_frame_dt_ms"`
	MaxInputHz      int     `yaml:"max_input_hz"`
}

type Edit struct {
	AckTimeoutMs   int    `yaml:"ack_timeout_ms"`
	GraceHoldMs    int    `yaml:"grace_hold_ms"`
	SampleAllBelow int    `yaml:"sample_all_below"`
	SampleCap      int    `yaml:"sample_cap"`
	StableSamples  int    `yaml:"stable_samples"`
	Placeholder    string `yaml:"placeholder"`
}

// Blocks caps the size of a single CSGBlock node.
type Blocks struct {
	MaxExtent int `yaml:"max_extent"`
	MaxVolume int `yaml:"max_volume"`
}

type Lanes struct {
	ReliableQueue int `yaml:"reliable_queue"`
	StateQueue    int `yaml:"state_queue"`
	InboxQueue    int `yaml:"inbox_queue"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		TickRateHz:      20,
		SceneID:         "main",
		Movement: Movement{
			DefaultSpeed: 6,
			SpawnSpacing: 2,
		},
		Prediction: Prediction{
			EyeHeight:       1.6,
			CorrectionDecay: 15,
			HardSnapDist:    2,
			MaxFrameDtMs:    100,
			MaxInputHz:      60,
		},
		Edit: Edit{
			AckTimeoutMs:   2000,
			GraceHoldMs:    2500,
			SampleAllBelow: 4096,
			SampleCap:      1024,
			StableSamples:  2,
			Placeholder:    "stone",
		},
		Blocks: Blocks{
			MaxExtent: 64,
			MaxVolume: 64 * 64 * 16,
		},
		Lanes: Lanes{
			ReliableQueue: 256,
			StateQueue:    4,
			InboxQueue:    1024,
		},
	}
}

// Load reads a tuning file over Defaults. Keys missing from the file keep
// their default values.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	switch {
	case t.TickRateHz < 1 || t.TickRateHz > 240:
		return fmt.Errorf("tick_rate_hz out of range: %d", t.TickRateHz)
	case t.SceneID == "":
		return fmt.Errorf("scene_id empty")
	case t.Movement.DefaultSpeed <= 0:
		return fmt.Errorf("movement.default_speed must be > 0")
	case t.Prediction.CorrectionDecay <= 0:
		return fmt.Errorf("prediction.correction_decay must be > 0")
	case t.Prediction.HardSnapDist <= 0:
		return fmt.Errorf("prediction.hard_snap_dist must be > 0")
	case t.Prediction.MaxFrameDtMs <= 0:
		return fmt.Errorf("prediction.max_frame_dt_ms must be > 0")
	case t.Edit.AckTimeoutMs <= 0 || t.Edit.GraceHoldMs <= 0:
		return fmt.Errorf("edit timers must be > 0")
	case t.Edit.SampleCap <= 0 || t.Edit.SampleAllBelow < 0:
		return fmt.Errorf("edit sampling limits invalid")
	case t.Edit.StableSamples < 1:
		return fmt.Errorf("edit.stable_samples must be >= 1")
	case t.Blocks.MaxExtent < 1 || t.Blocks.MaxVolume < 1:
		return fmt.Errorf("blocks limits must be >= 1")
	case t.Lanes.ReliableQueue <= 0 || t.Lanes.StateQueue <= 0 || t.Lanes.InboxQueue <= 0:
		return fmt.Errorf("lane queue sizes must be > 0")
	}
	return nil
}
