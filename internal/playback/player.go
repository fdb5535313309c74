// Package playback plays the assistant's audio through an output sink.
package playback

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Raikerian/go-realtime-voice/internal/metrics"
	"github.com/Raikerian/go-realtime-voice/pkg/audio"
)

// DefaultQueueSize is how many response chunks may wait for playback.
const DefaultQueueSize = 100

// Sink is an output stream for 24 kHz mono PCM16 frames. Write may block
// until the device has room.
type Sink interface {
	Write(frame []int16) error
}

// chunk is queued audio tagged with the generation it was enqueued in.
type chunk struct {
	pcm []byte
	gen uint64
}

// Player queues PCM16 LE chunks and writes them to the sink in order, one
// frame at a time.
type Player struct {
	sink   Sink
	logger *zap.Logger

	queue      chan chunk
	generation atomic.Uint64
	closed     atomic.Bool

	closeOnce sync.Once
	quit      chan struct{}
	wg        sync.WaitGroup
}

// NewPlayer starts the playback worker.
func NewPlayer(sink Sink, queueSize int, logger *zap.Logger) *Player {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	p := &Player{
		sink:   sink,
		logger: logger,
		queue:  make(chan chunk, queueSize),
		quit:   make(chan struct{}),
	}

	p.wg.Add(1)
	go p.worker()

	return p
}

// Enqueue schedules pcm for playback. It never blocks; a full queue drops the
// chunk. It reports whether the chunk was accepted.
func (p *Player) Enqueue(pcm []byte) bool {
	if p.closed.Load() || len(pcm) == 0 {
		return false
	}

	select {
	case p.queue <- chunk{pcm: pcm, gen: p.generation.Load()}:
		p.logger.Debug("Queued audio chunk",
			zap.Int("pcm_size", len(pcm)),
			zap.Int("queue_length", len(p.queue)))
		return true
	default:
		metrics.RecordPlaybackDrop()
		p.logger.Warn("Audio queue full, dropping chunk",
			zap.Int("pcm_size", len(pcm)))
		return false
	}
}

// Interrupt abandons the chunk being played and discards everything queued.
func (p *Player) Interrupt() {
	p.generation.Add(1)

	dropped := 0
	for {
		select {
		case <-p.queue:
			dropped++
		default:
			if dropped > 0 {
				p.logger.Debug("Playback interrupted", zap.Int("dropped_chunks", dropped))
			}
			return
		}
	}
}

// Close stops the worker. Queued audio is discarded.
func (p *Player) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.generation.Add(1)
		close(p.quit)
		p.wg.Wait()
	})
	return nil
}

func (p *Player) worker() {
	defer p.wg.Done()

	p.logger.Debug("Audio playback worker started")
	defer p.logger.Debug("Audio playback worker stopped")

	for {
		select {
		case <-p.quit:
			return
		case c := <-p.queue:
			p.play(c)
		}
	}
}

// play writes c in 20ms frames, padding the last one with silence. A chunk
// enqueued before the latest Interrupt is skipped.
func (p *Player) play(c chunk) {
	for offset := 0; offset < len(c.pcm); offset += audio.WireFrameBytes {
		if p.generation.Load() != c.gen {
			return
		}

		end := min(offset+audio.WireFrameBytes, len(c.pcm))
		frame := c.pcm[offset:end]
		if len(frame) < audio.WireFrameBytes {
			padded := make([]byte, audio.WireFrameBytes)
			copy(padded, frame)
			frame = padded
		}

		if err := p.sink.Write(audio.LEToPCMInt16(frame)); err != nil {
			p.logger.Warn("Failed to write playback frame",
				zap.Error(err),
				zap.Int("offset", offset))
			return
		}
	}
}
