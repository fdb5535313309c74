// Package capture owns the live microphone stream: it resamples every hardware
// frame to the wire format, accumulates the result and flushes it to a
// consumer on a time-or-size threshold.
package capture

// Format describes what an opened capture device will deliver.
type Format struct {
	SampleRate int
	Channels   int
}

// FrameCallback receives interleaved float samples on the device's real-time
// thread. Implementations must not retain the slice after returning.
type FrameCallback func(frame []float32)

// Device is the capability interface for a platform audio input backend.
type Device interface {
	// Open acquires the input device and reports its native format.
	Open() (Format, error)

	// StartCapture begins delivering frames to cb.
	StartCapture(cb FrameCallback) error

	// StopCapture stops frame delivery. No callback runs after it returns.
	StopCapture() error

	// Close releases the device.
	Close() error
}
