package audio

import "math"

// VolumeScale makes quiet speech visible on a meter
const VolumeScale = 5.0

// Volume returns the RMS amplitude of samples scaled by VolumeScale.
// The result is not clamped.
func Volume(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum/float64(len(samples))) * VolumeScale
}
