// Package domain holds the value types shared across the allocation pipeline:
// views, allocations, risk limits, decisions and the error taxonomy.
package domain

import (
	"math"
	"strings"
)

// View is an investor belief about the expected return of one asset or a
// weighted combination of assets.
type View struct {
	Assets         []string  `json:"assets" yaml:"assets"`
	Weights        []float64 `json:"weights,omitempty" yaml:"weights,omitempty"`
	ExpectedReturn float64   `json:"expected_return" yaml:"expected_return"`
	Confidence     float64   `json:"confidence" yaml:"confidence"`
	Description    string    `json:"description,omitempty" yaml:"description,omitempty"`
	Source         string    `json:"source,omitempty" yaml:"source,omitempty"`
}

// ViewSet is an ordered list of views. Order fixes the row order of P and Q.
type ViewSet []View

// NewAbsoluteView expresses "asset returns r".
func NewAbsoluteView(asset string, r, confidence float64) View {
	return View{Assets: []string{asset}, Weights: []float64{1}, ExpectedReturn: r, Confidence: confidence}
}

// NewRelativeView expresses "long outperforms short by r".
func NewRelativeView(long, short string, r, confidence float64) View {
	return View{Assets: []string{long, short}, Weights: []float64{1, -1}, ExpectedReturn: r, Confidence: confidence}
}

// PickWeights returns the view's portfolio weights, filling the defaults for
// single-asset and pair views when none were given.
func (v View) PickWeights() []float64 {
	if len(v.Weights) > 0 {
		return v.Weights
	}
	switch len(v.Assets) {
	case 1:
		return []float64{1}
	case 2:
		return []float64{1, -1}
	default:
		return nil
	}
}

// IsRelative reports whether the view compares assets rather than stating an absolute return.
func (v View) IsRelative() bool {
	return len(v.Assets) > 1
}

// Validate checks the view against the asset universe.
func (v View) Validate(universe map[string]int) error {
	if len(v.Assets) == 0 {
		return Errorf(ErrView, "view has no assets")
	}
	if math.IsNaN(v.Confidence) || v.Confidence <= 0 || v.Confidence > 1 {
		return Errorf(ErrView, "confidence %.4f for %s outside (0, 1]", v.Confidence, v.label())
	}
	if math.IsNaN(v.ExpectedReturn) || math.IsInf(v.ExpectedReturn, 0) {
		return Errorf(ErrView, "expected return for %s is not finite", v.label())
	}

	weights := v.PickWeights()
	if len(weights) != len(v.Assets) {
		return Errorf(ErrView, "view %s has %d assets but %d weights", v.label(), len(v.Assets), len(weights))
	}

	seen := make(map[string]bool, len(v.Assets))
	nonZero := false
	for i, asset := range v.Assets {
		if _, ok := universe[asset]; !ok {
			return Errorf(ErrView, "view references unknown asset %q", asset)
		}
		if seen[asset] {
			return Errorf(ErrView, "view %s lists %q twice", v.label(), asset)
		}
		seen[asset] = true
		if math.IsNaN(weights[i]) || math.IsInf(weights[i], 0) {
			return Errorf(ErrView, "view %s has a non-finite weight", v.label())
		}
		if weights[i] != 0 {
			nonZero = true
		}
	}
	if !nonZero {
		return Errorf(ErrView, "view %s has an all-zero pick row", v.label())
	}
	return nil
}

func (v View) label() string {
	if len(v.Assets) == 0 {
		return "<empty>"
	}
	return strings.Join(v.Assets, "/")
}
