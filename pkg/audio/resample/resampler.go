// ABOUTME: Streaming linear resampler for float capture audio
// ABOUTME: Converts device-rate audio to the 16 kHz capture rate across chunk boundaries
package resample

// Resampler performs linear interpolation to convert between sample rates.
// State is carried between calls so consecutive chunks join without gaps.
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	ratio      float64
	position   float64   // read position in frames, relative to lastFrame
	lastFrame  []float32 // final input frame of the previous chunk
	primed     bool
}

// New creates a new resampler
func New(inputRate, outputRate, channels int) *Resampler {
	if channels <= 0 {
		channels = 1
	}
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		ratio:      float64(inputRate) / float64(outputRate),
		lastFrame:  make([]float32, channels),
	}
}

// Resample converts interleaved input at inputRate to interleaved output at
// outputRate. The returned slice is newly allocated.
func (r *Resampler) Resample(input []float32) []float32 {
	inputFrames := len(input) / r.channels
	if inputFrames == 0 {
		return nil
	}

	// frame i of the virtual source is lastFrame when primed, then input
	offset := 0
	if r.primed {
		offset = 1
	}
	totalFrames := inputFrames + offset

	frame := func(i, ch int) float32 {
		if i < offset {
			return r.lastFrame[ch]
		}
		return input[(i-offset)*r.channels+ch]
	}

	output := make([]float32, 0, (r.OutputSamplesNeeded(len(input))/r.channels+1)*r.channels)

	for {
		idx := int(r.position)
		if idx >= totalFrames-1 {
			break
		}

		frac := float32(r.position - float64(idx))
		for ch := 0; ch < r.channels; ch++ {
			s1 := frame(idx, ch)
			s2 := frame(idx+1, ch)
			output = append(output, s1*(1-frac)+s2*frac)
		}

		r.position += r.ratio
	}

	// the last frame becomes frame 0 of the next call
	r.position -= float64(totalFrames - 1)
	for ch := 0; ch < r.channels; ch++ {
		r.lastFrame[ch] = frame(totalFrames-1, ch)
	}
	r.primed = true

	return output
}

// Reset resets the resampler state
func (r *Resampler) Reset() {
	r.position = 0
	r.primed = false
	for i := range r.lastFrame {
		r.lastFrame[i] = 0
	}
}

// InputRate returns the source sample rate
func (r *Resampler) InputRate() int {
	return r.inputRate
}

// OutputRate returns the target sample rate
func (r *Resampler) OutputRate() int {
	return r.outputRate
}

// OutputSamplesNeeded calculates how many output samples will be produced from input samples
func (r *Resampler) OutputSamplesNeeded(inputSamples int) int {
	inputFrames := inputSamples / r.channels
	outputFrames := int(float64(inputFrames) / r.ratio)
	return outputFrames * r.channels
}

// InputSamplesNeeded calculates how many input samples are needed to produce output samples
func (r *Resampler) InputSamplesNeeded(outputSamples int) int {
	outputFrames := outputSamples / r.channels
	inputFrames := int(float64(outputFrames) * r.ratio)
	return inputFrames * r.channels
}
