package session

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Factory builds an Idle controller for cfg.
type Factory func(cfg VoiceConfig) (*Controller, error)

// Registry holds the single current session. Starting a new one first stops
// the current session and waits for it to reach Stopped.
type Registry struct {
	logger  *zap.Logger
	factory Factory

	mu      sync.Mutex
	current *Controller
}

// NewRegistry creates an empty registry.
func NewRegistry(factory Factory, logger *zap.Logger) *Registry {
	return &Registry{
		logger:  logger,
		factory: factory,
	}
}

// Start replaces the current session with a new one built from cfg. ctx
// bounds the wait for the previous session to stop.
func (r *Registry) Start(ctx context.Context, cfg VoiceConfig) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.stopLocked(ctx); err != nil {
		return nil, err
	}

	ctrl, err := r.factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	r.current = ctrl

	r.logger.Info("Starting voice session",
		zap.String("session_id", ctrl.ID()),
		zap.String("voice", string(cfg.Voice)))

	if err := ctrl.Start(ctx); err != nil {
		return ctrl, err
	}

	return ctrl, nil
}

// Current returns the most recently started session, or nil.
func (r *Registry) Current() *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.current
}

// StopAll stops the current session and waits for it, bounded by ctx.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.stopLocked(ctx)
}

func (r *Registry) stopLocked(ctx context.Context) error {
	prev := r.current
	if prev == nil || prev.State() == StateStopped {
		return nil
	}

	r.logger.Info("Stopping current voice session",
		zap.String("session_id", prev.ID()),
		zap.Stringer("state", prev.State()))

	prev.Stop()

	select {
	case <-prev.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for session %s to stop: %w", prev.ID(), ctx.Err())
	}
}
