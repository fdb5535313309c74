package audio

import (
	"errors"
	"fmt"
)

// ErrUnsupportedFormat is returned for input formats the resampler cannot
// reduce to the target rate.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Resampler reduces interleaved float frames from the capture hardware to
// mono samples at a fixed target rate.
//
// The decimation factor is floor(inputRate/targetRate). Mono input uses
// stride decimation: the first sample of every window is kept. Stereo input
// averages each L/R pair and then averages those means across the window.
// A trailing partial window is dropped, so the output length is always
// floor(frames/factor).
//
// A Resampler holds no per-call state and Process does not allocate when dst
// has enough capacity, so it can run inside a real-time capture callback.
type Resampler struct {
	inputRate  int
	targetRate int
	channels   int
	factor     int
}

// NewResampler validates the input format against the target rate.
func NewResampler(inputRate, channels, targetRate int) (*Resampler, error) {
	if targetRate <= 0 || inputRate < targetRate {
		return nil, fmt.Errorf("%w: cannot resample %d Hz to %d Hz", ErrUnsupportedFormat, inputRate, targetRate)
	}
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, channels)
	}
	return &Resampler{
		inputRate:  inputRate,
		targetRate: targetRate,
		channels:   channels,
		factor:     inputRate / targetRate,
	}, nil
}

// Factor returns the integer decimation factor.
func (r *Resampler) Factor() int { return r.factor }

// Channels returns the interleaved channel count expected by Process.
func (r *Resampler) Channels() int { return r.channels }

// OutputLen returns how many mono samples Process produces for an
// interleaved input of n samples.
func (r *Resampler) OutputLen(n int) int {
	return n / r.channels / r.factor
}

// Process appends the resampled form of the interleaved frame to dst and
// returns the extended slice.
func (r *Resampler) Process(dst, frame []float32) []float32 {
	frames := len(frame) / r.channels
	windows := frames / r.factor
	if windows == 0 {
		return dst
	}

	if r.channels == 1 {
		for w := 0; w < windows; w++ {
			dst = append(dst, frame[w*r.factor])
		}
		return dst
	}

	norm := 1 / float32(r.factor)
	for w := 0; w < windows; w++ {
		base := w * r.factor * 2
		var sum float32
		for k := 0; k < r.factor; k++ {
			i := base + k*2
			sum += (frame[i] + frame[i+1]) * 0.5
		}
		dst = append(dst, sum*norm)
	}
	return dst
}
