package audio

// Format constants for the realtime wire audio.
const (
	// Preferred capture rate and the widest capture layout.
	DeviceSampleRate = 48_000 // Hz
	DeviceChannels   = 2      // interleaved stereo

	// Realtime API input/output.
	WireSampleRate = 24_000 // Hz
	WireChannels   = 1
	WireFrameSize  = 480               // samples (20 ms)
	WireFrameBytes = WireFrameSize * 2 // 16-bit PCM

	// pcm16Scale maps [-1, 1] floats onto the int16 range.
	pcm16Scale = 32767
)
