package market

import (
	"fmt"
	"math"
	"time"
)

// ValidationError reports a single field-level rejection, matching the
// ValidationError kind in the error taxonomy.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("market: validation failed for %s: %s", e.Field, e.Reason)
}

// Validator enforces the MarketData invariants (finite non-negative price,
// bounded timestamp drift, non-empty asset/source) at transform time.
type Validator struct {
	MinPrice                  float64
	MaxPrice                  float64
	MaxTimestampDriftSeconds  int64
	MaxAssetSymbolLen         int
}

// NewValidator returns the default validator: price in [0, 1_000_000],
// timestamps within an hour of now, asset symbols up to 10 runes.
func NewValidator() *Validator {
	return &Validator{
		MinPrice:                 0.0,
		MaxPrice:                 1_000_000.0,
		MaxTimestampDriftSeconds: 3600,
		MaxAssetSymbolLen:        10,
	}
}

// WithPriceRange returns a copy of v with a new price range.
func (v Validator) WithPriceRange(min, max float64) *Validator {
	v.MinPrice = min
	v.MaxPrice = max
	return &v
}

// WithTimestampDrift returns a copy of v with a new drift tolerance.
func (v Validator) WithTimestampDrift(seconds int64) *Validator {
	v.MaxTimestampDriftSeconds = seconds
	return &v
}

// ValidatePrice rejects non-finite, below-minimum, and above-maximum prices.
// The finiteness check runs first: NaN and Inf compare false against every
// ordered bound in Go, so a range check alone would silently accept them.
func (v *Validator) ValidatePrice(price float64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return &ValidationError{Field: "price", Reason: "must be a finite number"}
	}
	if price < v.MinPrice {
		return &ValidationError{Field: "price", Reason: fmt.Sprintf("below minimum %.2f", v.MinPrice)}
	}
	if price > v.MaxPrice {
		return &ValidationError{Field: "price", Reason: fmt.Sprintf("above maximum %.2f", v.MaxPrice)}
	}
	return nil
}

// ValidateTimestamp rejects negative timestamps and those drifting more
// than MaxTimestampDriftSeconds from wall-clock now.
func (v *Validator) ValidateTimestamp(timestamp int64) error {
	if timestamp < 0 {
		return &ValidationError{Field: "timestamp", Reason: "must not be negative"}
	}
	drift := timestamp - time.Now().Unix()
	if drift < 0 {
		drift = -drift
	}
	if drift > v.MaxTimestampDriftSeconds {
		return &ValidationError{Field: "timestamp", Reason: fmt.Sprintf("drift %ds exceeds max %ds", drift, v.MaxTimestampDriftSeconds)}
	}
	return nil
}

// ValidateAssetSymbol rejects empty symbols and those longer than
// MaxAssetSymbolLen runes.
func (v *Validator) ValidateAssetSymbol(asset string) error {
	if asset == "" {
		return &ValidationError{Field: "asset", Reason: "must not be empty"}
	}
	if len([]rune(asset)) > v.MaxAssetSymbolLen {
		return &ValidationError{Field: "asset", Reason: fmt.Sprintf("exceeds %d characters", v.MaxAssetSymbolLen)}
	}
	return nil
}

// ValidateSource rejects an empty source string.
func (v *Validator) ValidateSource(source string) error {
	if source == "" {
		return &ValidationError{Field: "source", Reason: "must not be empty"}
	}
	return nil
}
