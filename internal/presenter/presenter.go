// Package presenter formats raw predictions for display and assigns each
// one a confidence tier.
package presenter

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Tier is a discrete confidence band
type Tier string

const (
	TierUnknown Tier = "unknown"
	TierLow     Tier = "low"
	TierMedium  Tier = "medium"
	TierHigh    Tier = "high"
)

// Placeholder is shown before the first prediction arrives
const Placeholder = "..."

// TierFor derives the tier of a confidence score
func TierFor(confidence *float64) Tier {
	switch {
	case confidence == nil:
		return TierUnknown
	case *confidence > 0.75:
		return TierHigh
	case *confidence > 0.5:
		return TierMedium
	default:
		return TierLow
	}
}

// FormatConfidence renders a score as a percentage with two decimals
func FormatConfidence(confidence *float64) string {
	if confidence == nil {
		return Placeholder
	}
	return fmt.Sprintf("%.2f%%", *confidence*100)
}

// Prediction is a single classification returned by the inference endpoint
type Prediction struct {
	Digit      *int     `json:"digit"`
	Confidence *float64 `json:"confidence"`
}

// View is the display form of the latest prediction
type View struct {
	Digit          *int      `json:"digit"`
	Confidence     *float64  `json:"confidence"`
	Label          string    `json:"label"`
	ConfidenceText string    `json:"confidence_text"`
	Tier           Tier      `json:"tier"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`
}

// Presenter holds the latest successful prediction
type Presenter struct {
	mu        sync.RWMutex
	current   Prediction
	updatedAt time.Time
}

// New creates a presenter with no prediction
func New() *Presenter {
	return &Presenter{}
}

// Update replaces the latest prediction and returns its view
func (p *Presenter) Update(pred Prediction) View {
	p.mu.Lock()
	p.current = copyPrediction(pred)
	p.updatedAt = time.Now()
	p.mu.Unlock()

	return p.Current()
}

// Current returns the view of the latest prediction
func (p *Presenter) Current() View {
	p.mu.RLock()
	pred := copyPrediction(p.current)
	at := p.updatedAt
	p.mu.RUnlock()

	v := View{
		Digit:          pred.Digit,
		Confidence:     pred.Confidence,
		Label:          Placeholder,
		ConfidenceText: FormatConfidence(pred.Confidence),
		Tier:           TierFor(pred.Confidence),
		UpdatedAt:      at,
	}
	if pred.Digit != nil {
		v.Label = strconv.Itoa(*pred.Digit)
	}
	return v
}

func copyPrediction(p Prediction) Prediction {
	var out Prediction
	if p.Digit != nil {
		d := *p.Digit
		out.Digit = &d
	}
	if p.Confidence != nil {
		c := *p.Confidence
		out.Confidence = &c
	}
	return out
}
