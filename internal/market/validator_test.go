package market

import (
	"math"
	"testing"
	"time"
)

func TestValidatePrice(t *testing.T) {
	v := NewValidator()

	cases := []struct {
		name    string
		price   float64
		wantErr bool
	}{
		{"positive", 50000.0, false},
		{"zero", 0.0, false},
		{"negative", -1.0, true},
		{"nan", math.NaN(), true},
		{"infinity", math.Inf(1), true},
		{"above max", 2_000_000.0, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := v.ValidatePrice(c.price)
			if (err != nil) != c.wantErr {
				t.Fatalf("ValidatePrice(%v) error=%v, wantErr=%v", c.price, err, c.wantErr)
			}
		})
	}
}

func TestValidateTimestamp(t *testing.T) {
	v := NewValidator()
	now := time.Now().Unix()

	if err := v.ValidateTimestamp(now); err != nil {
		t.Fatalf("current timestamp should validate: %v", err)
	}
	if err := v.ValidateTimestamp(-5); err == nil {
		t.Fatal("negative timestamp should be rejected")
	}
	if err := v.ValidateTimestamp(now - 10_000); err == nil {
		t.Fatal("far-past timestamp should be rejected")
	}
}

func TestValidateAssetSymbol(t *testing.T) {
	v := NewValidator()
	if err := v.ValidateAssetSymbol(""); err == nil {
		t.Fatal("empty asset should be rejected")
	}
	if err := v.ValidateAssetSymbol("VERYLONGASSET"); err == nil {
		t.Fatal("over-length asset should be rejected")
	}
	if err := v.ValidateAssetSymbol("BTC"); err != nil {
		t.Fatalf("BTC should validate: %v", err)
	}
}

func TestValidateSource(t *testing.T) {
	v := NewValidator()
	if err := v.ValidateSource(""); err == nil {
		t.Fatal("empty source should be rejected")
	}
}
