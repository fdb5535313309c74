// Package pricing turns realtime token usage into a cost estimate.
package pricing

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

//go:embed models.json
var builtinModels []byte

// ErrUnknownModel is returned for models missing from the pricing table.
var ErrUnknownModel = errors.New("pricing data not found for model")

// TokenPricing is the cost per million tokens of each billed kind.
type TokenPricing struct {
	TextInputPerMillion        float64 `json:"text_input_per_million"`
	CachedTextInputPerMillion  float64 `json:"cached_text_input_per_million"`
	TextOutputPerMillion       float64 `json:"text_output_per_million"`
	AudioInputPerMillion       float64 `json:"audio_input_per_million"`
	CachedAudioInputPerMillion float64 `json:"cached_audio_input_per_million"`
	AudioOutputPerMillion      float64 `json:"audio_output_per_million"`
}

// ModelInfo describes one priced model.
type ModelInfo struct {
	DisplayName string       `json:"display_name"`
	Pricing     TokenPricing `json:"pricing"`
}

// PricingData is the content of a models.json file.
type PricingData struct {
	Models   map[string]ModelInfo `json:"models"`
	Currency string               `json:"currency"`
	Note     string               `json:"note"`
}

// Usage counts billed tokens by kind. Cached counts are included in the
// matching input counts.
type Usage struct {
	TextInput        int
	CachedTextInput  int
	AudioInput       int
	CachedAudioInput int
	TextOutput       int
	AudioOutput      int
}

// Add returns the sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		TextInput:        u.TextInput + o.TextInput,
		CachedTextInput:  u.CachedTextInput + o.CachedTextInput,
		AudioInput:       u.AudioInput + o.AudioInput,
		CachedAudioInput: u.CachedAudioInput + o.CachedAudioInput,
		TextOutput:       u.TextOutput + o.TextOutput,
		AudioOutput:      u.AudioOutput + o.AudioOutput,
	}
}

// Cost prices u. Cached tokens are billed at the cached rate and the rest of
// the input at the full rate.
func (p TokenPricing) Cost(u Usage) float64 {
	cachedText := min(u.CachedTextInput, u.TextInput)
	cachedAudio := min(u.CachedAudioInput, u.AudioInput)

	cost := perMillion(u.TextInput-cachedText, p.TextInputPerMillion)
	cost += perMillion(cachedText, p.CachedTextInputPerMillion)
	cost += perMillion(u.AudioInput-cachedAudio, p.AudioInputPerMillion)
	cost += perMillion(cachedAudio, p.CachedAudioInputPerMillion)
	cost += perMillion(u.TextOutput, p.TextOutputPerMillion)
	cost += perMillion(u.AudioOutput, p.AudioOutputPerMillion)
	return cost
}

func perMillion(tokens int, rate float64) float64 {
	return float64(tokens) / 1_000_000 * rate
}

// Service looks up model prices.
type Service interface {
	// GetPricingData returns the loaded pricing table.
	GetPricingData() (*PricingData, error)

	// GetModelPricing returns pricing information for a specific model.
	GetModelPricing(modelName string) (*ModelInfo, error)
}

type pricingService struct {
	modelsFilePath string

	once sync.Once
	data *PricingData
	err  error
}

// NewService creates a Service reading modelsFilePath on first use. An empty
// path selects the built-in table.
func NewService(modelsFilePath string) Service {
	return &pricingService{modelsFilePath: modelsFilePath}
}

func (p *pricingService) load() (*PricingData, error) {
	raw := builtinModels
	if p.modelsFilePath != "" {
		data, err := os.ReadFile(p.modelsFilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read pricing file: %w", err)
		}
		raw = data
	}

	var pricingData PricingData
	if err := json.Unmarshal(raw, &pricingData); err != nil {
		return nil, fmt.Errorf("failed to parse pricing data: %w", err)
	}
	return &pricingData, nil
}

// GetPricingData loads the table once and caches the result, error included.
func (p *pricingService) GetPricingData() (*PricingData, error) {
	p.once.Do(func() {
		p.data, p.err = p.load()
	})
	return p.data, p.err
}

// GetModelPricing returns pricing information for a specific model.
func (p *pricingService) GetModelPricing(modelName string) (*ModelInfo, error) {
	data, err := p.GetPricingData()
	if err != nil {
		return nil, err
	}

	model, ok := data.Models[modelName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, modelName)
	}
	return &model, nil
}

// Meter accumulates usage and cost over a session.
type Meter struct {
	pricing TokenPricing

	mu    sync.Mutex
	usage Usage
	cost  float64
}

// NewMeter creates a Meter billing at pricing.
func NewMeter(pricing TokenPricing) *Meter {
	return &Meter{pricing: pricing}
}

// Add records one response and returns its cost and the running total.
func (m *Meter) Add(u Usage) (cost, total float64) {
	cost = m.pricing.Cost(u)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.usage = m.usage.Add(u)
	m.cost += cost
	return cost, m.cost
}

// Total returns the accumulated usage and cost.
func (m *Meter) Total() (Usage, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.usage, m.cost
}
