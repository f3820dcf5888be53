package market

import "github.com/shopspring/decimal"

// TransformResult is the normalized, deduplication-checked observation
// ready to be embedded in a Block.
type TransformResult struct {
	Asset          string
	Price          float64
	Source         string
	Timestamp      int64
	IsDeduplicated bool
}

// Transformer validates a raw extracted price, normalizes it, and flags
// duplicates against a caller-supplied last-seen timestamp; it keeps no
// per-asset history of its own.
//
// The reference implementation this is grounded on hardcodes the asset to
// "BTC"; here it is a parameter, since MarketData.Asset is a general field
// and nothing in the spec restricts the ledger to a single instrument.
type Transformer struct {
	Validator                  *Validator
	DeduplicationWindowSeconds int64
}

// NewTransformer returns a Transformer with a default 60s dedup window.
func NewTransformer() *Transformer {
	return &Transformer{
		Validator:                  NewValidator(),
		DeduplicationWindowSeconds: 60,
	}
}

// WithDeduplicationWindow overrides the dedup window in seconds.
func (t *Transformer) WithDeduplicationWindow(seconds int64) *Transformer {
	t.DeduplicationWindowSeconds = seconds
	return t
}

// Transform validates price/timestamp/source/asset, normalizes the price
// to two decimals, and determines whether this observation falls inside
// the deduplication window of lastTimestamp (never, when it is nil).
func (t *Transformer) Transform(asset string, price float64, timestamp int64, source string, lastTimestamp *int64) (*TransformResult, error) {
	if err := t.Validator.ValidatePrice(price); err != nil {
		return nil, err
	}
	if err := t.Validator.ValidateTimestamp(timestamp); err != nil {
		return nil, err
	}
	if err := t.Validator.ValidateSource(source); err != nil {
		return nil, err
	}
	if err := t.Validator.ValidateAssetSymbol(asset); err != nil {
		return nil, err
	}

	dedup := false
	if lastTimestamp != nil {
		delta := timestamp - *lastTimestamp
		if delta < 0 {
			delta = -delta
		}
		dedup = delta < t.DeduplicationWindowSeconds
	}

	return &TransformResult{
		Asset:          asset,
		Price:          NormalizePrice(price),
		Source:         source,
		Timestamp:      timestamp,
		IsDeduplicated: dedup,
	}, nil
}

// NormalizePrice rounds price to two decimal places using exact decimal
// arithmetic, avoiding the binary-float rounding drift math.Round(x*100)/100
// can introduce on repeated transforms of the same value.
func NormalizePrice(price float64) float64 {
	rounded, _ := decimal.NewFromFloat(price).Round(2).Float64()
	return rounded
}
