package session

import (
	"time"

	"voxelscene.dev/internal/client/ghost"
	"voxelscene.dev/internal/client/predict"
	"voxelscene.dev/internal/sim/tuning"
)

// ConfigFromTuning builds the client side of a tuning file. Speed follows the
// server's default avatar speed so prediction starts in agreement.
func ConfigFromTuning(t tuning.Tuning) Config {
	mv := predict.DefaultConfig()
	mv.EyeHeight = t.Prediction.EyeHeight
	mv.CorrectionDecay = t.Prediction.CorrectionDecay
	mv.HardSnapDist = t.Prediction.HardSnapDist
	mv.MaxFrameDt = time.Duration(t.Prediction.MaxFrameDtMs) * time.Millisecond
	mv.MaxInputHz = t.Prediction.MaxInputHz
	if t.Movement.DefaultSpeed > 0 {
		mv.Speed = t.Movement.DefaultSpeed
	}

	ed := ghost.DefaultConfig()
	ed.AckTimeout = time.Duration(t.Edit.AckTimeoutMs) * time.Millisecond
	ed.GraceHold = time.Duration(t.Edit.GraceHoldMs) * time.Millisecond
	ed.SampleAllBelow = t.Edit.SampleAllBelow
	ed.SampleCap = t.Edit.SampleCap
	ed.StableSamples = t.Edit.StableSamples

	return Config{Movement: mv, Edit: ed}
}
