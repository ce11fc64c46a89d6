package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// SumTolerance is the accepted deviation of a final allocation from 1.
const SumTolerance = 1e-6

// CashAsset is the label used for the cash leg in flat weight maps.
const CashAsset = "CASH"

// Allocation is a weight vector over an ordered asset list plus a cash leg.
// Raw allocator output may not sum to one; gatekeeper output does.
type Allocation struct {
	Assets  []string  `json:"assets"`
	Weights []float64 `json:"weights"`
	Cash    float64   `json:"cash"`
}

// NewAllocation copies weights into a new allocation with zero cash.
func NewAllocation(assets []string, weights []float64) Allocation {
	return Allocation{
		Assets:  append([]string(nil), assets...),
		Weights: append([]float64(nil), weights...),
	}
}

// AllCash is the allocation holding nothing but cash.
func AllCash(assets []string) Allocation {
	return Allocation{
		Assets:  append([]string(nil), assets...),
		Weights: make([]float64, len(assets)),
		Cash:    1,
	}
}

// Clone returns a deep copy.
func (a Allocation) Clone() Allocation {
	return Allocation{
		Assets:  append([]string(nil), a.Assets...),
		Weights: append([]float64(nil), a.Weights...),
		Cash:    a.Cash,
	}
}

// Total is the sum of asset weights and cash.
func (a Allocation) Total() float64 {
	total := a.Cash
	for _, w := range a.Weights {
		total += w
	}
	return total
}

// Invested is the sum of asset weights.
func (a Allocation) Invested() float64 {
	total := 0.0
	for _, w := range a.Weights {
		total += w
	}
	return total
}

// WeightOf returns the weight of asset, zero when absent.
func (a Allocation) WeightOf(asset string) float64 {
	for i, name := range a.Assets {
		if name == asset {
			return a.Weights[i]
		}
	}
	return 0
}

// Validate checks structural consistency.
func (a Allocation) Validate() error {
	if len(a.Assets) != len(a.Weights) {
		return Errorf(ErrData, "allocation has %d assets and %d weights", len(a.Assets), len(a.Weights))
	}
	for i, w := range a.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return Errorf(ErrNumerical, "weight for %s is not finite", a.Assets[i])
		}
	}
	if math.IsNaN(a.Cash) || math.IsInf(a.Cash, 0) {
		return Errorf(ErrNumerical, "cash weight is not finite")
	}
	return nil
}

// AssetWeight is one entry of an ordered weight mapping.
type AssetWeight struct {
	Asset  string
	Weight float64
}

// OrderedWeights is an asset → weight mapping that keeps its order when
// encoded as a JSON object.
type OrderedWeights []AssetWeight

// MarshalJSON writes the weights as a JSON object in slice order.
func (o OrderedWeights) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, aw := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(aw.Asset)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(aw.Weight)
		if err != nil {
			return nil, fmt.Errorf("failed to encode weight for %s: %w", aw.Asset, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object preserving key order.
func (o *OrderedWeights) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("asset weights must be a JSON object")
	}

	var out OrderedWeights
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("unexpected key %v in asset weights", keyTok)
		}
		var w float64
		if err := dec.Decode(&w); err != nil {
			return fmt.Errorf("failed to decode weight for %s: %w", key, err)
		}
		out = append(out, AssetWeight{Asset: key, Weight: w})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*o = out
	return nil
}

// Decision is the output contract of one pipeline run.
type Decision struct {
	ID             string         `json:"id"`
	Timestamp      time.Time      `json:"timestamp"`
	AssetWeights   OrderedWeights `json:"asset_weights"`
	CashWeight     float64        `json:"cash_weight"`
	SourceStrategy string         `json:"source_strategy"`
	Warnings       []string       `json:"warnings,omitempty"`
}

// NewDecision builds a decision from a final allocation, dropping nothing and
// keeping the allocation's asset order.
func NewDecision(id string, ts time.Time, alloc Allocation, strategy string) Decision {
	weights := make(OrderedWeights, len(alloc.Assets))
	for i, asset := range alloc.Assets {
		weights[i] = AssetWeight{Asset: asset, Weight: alloc.Weights[i]}
	}
	return Decision{
		ID:             id,
		Timestamp:      ts.UTC(),
		AssetWeights:   weights,
		CashWeight:     alloc.Cash,
		SourceStrategy: strategy,
	}
}

// Total is the sum of all asset weights and cash.
func (d Decision) Total() float64 {
	total := d.CashWeight
	for _, aw := range d.AssetWeights {
		total += aw.Weight
	}
	return total
}
