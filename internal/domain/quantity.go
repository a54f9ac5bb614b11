// Package domain holds the core types shared by every trading-core component:
// fixed-point quantities, snapshots, positions, outcomes, and the error taxonomy.
package domain

import (
	"encoding/json"
	"math"

	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
)

// BaseScale and QuoteScale are the fixed-point scales named by the configuration surface:
// 9 fractional digits for base-asset quantities, 6 for quote/USD quantities.
const (
	BaseScale  = 9
	QuoteScale = 6
)

// BaseQty is a base-asset amount (e.g. ETH) held at 9 fractional digits of precision.
type BaseQty struct {
	v decimal.Decimal
}

// QuoteQty is a quote-asset amount (e.g. USD) held at 6 fractional digits of precision.
type QuoteQty struct {
	v decimal.Decimal
}

// NewBaseQty builds a BaseQty from a float64, rounding to BaseScale.
func NewBaseQty(f float64) BaseQty {
	return BaseQty{v: decimal.NewFromFloat(f).Round(BaseScale)}
}

// NewQuoteQty builds a QuoteQty from a float64, rounding to QuoteScale.
func NewQuoteQty(f float64) QuoteQty {
	return QuoteQty{v: decimal.NewFromFloat(f).Round(QuoteScale)}
}

// ZeroBase is the additive identity for BaseQty.
func ZeroBase() BaseQty { return BaseQty{v: decimal.Zero} }

// ZeroQuote is the additive identity for QuoteQty.
func ZeroQuote() QuoteQty { return QuoteQty{v: decimal.Zero} }

func (b BaseQty) Float() float64   { f, _ := b.v.Float64(); return f }
func (q QuoteQty) Float() float64  { f, _ := q.v.Float64(); return f }
func (b BaseQty) Decimal() decimal.Decimal  { return b.v }
func (q QuoteQty) Decimal() decimal.Decimal { return q.v }

func (b BaseQty) Add(o BaseQty) BaseQty { return BaseQty{v: b.v.Add(o.v).Round(BaseScale)} }
func (b BaseQty) Sub(o BaseQty) BaseQty { return BaseQty{v: b.v.Sub(o.v).Round(BaseScale)} }
func (b BaseQty) Neg() BaseQty          { return BaseQty{v: b.v.Neg()} }
func (b BaseQty) Abs() BaseQty          { return BaseQty{v: b.v.Abs()} }
func (b BaseQty) IsZero() bool          { return b.v.IsZero() }
func (b BaseQty) Cmp(o BaseQty) int     { return b.v.Cmp(o.v) }

func (q QuoteQty) Add(o QuoteQty) QuoteQty { return QuoteQty{v: q.v.Add(o.v).Round(QuoteScale)} }
func (q QuoteQty) Sub(o QuoteQty) QuoteQty { return QuoteQty{v: q.v.Sub(o.v).Round(QuoteScale)} }
func (q QuoteQty) Neg() QuoteQty           { return QuoteQty{v: q.v.Neg()} }
func (q QuoteQty) IsZero() bool            { return q.v.IsZero() }
func (q QuoteQty) Cmp(o QuoteQty) int      { return q.v.Cmp(o.v) }

// ToQuote converts a BaseQty to a QuoteQty at the given price (quote per base unit).
func (b BaseQty) ToQuote(price float64) QuoteQty {
	priced := b.v.Mul(decimal.NewFromFloat(price))
	return QuoteQty{v: priced.Round(QuoteScale)}
}

// MulFloat scales a BaseQty by a dimensionless float (e.g. a Kelly fraction).
func (b BaseQty) MulFloat(f float64) BaseQty {
	return BaseQty{v: b.v.Mul(decimal.NewFromFloat(f)).Round(BaseScale)}
}

// EncodeMsgpack/DecodeMsgpack let BaseQty/QuoteQty round-trip through the
// Performance DB's append-only msgpack audit log as plain decimal strings,
// since decimal.Decimal carries unexported state.
func (b BaseQty) EncodeMsgpack(enc *msgpack.Encoder) error { return enc.EncodeString(b.v.String()) }
func (b *BaseQty) DecodeMsgpack(dec *msgpack.Decoder) error {
	s, err := dec.DecodeString()
	if err != nil {
		return err
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return err
	}
	b.v = d
	return nil
}

func (q QuoteQty) EncodeMsgpack(enc *msgpack.Encoder) error { return enc.EncodeString(q.v.String()) }
func (q *QuoteQty) DecodeMsgpack(dec *msgpack.Decoder) error {
	s, err := dec.DecodeString()
	if err != nil {
		return err
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return err
	}
	q.v = d
	return nil
}

// MarshalJSON/UnmarshalJSON let BaseQty/QuoteQty serialize as plain decimal
// strings for the control surface, mirroring the msgpack round-trip above.
func (b BaseQty) MarshalJSON() ([]byte, error) { return json.Marshal(b.v.String()) }
func (b *BaseQty) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return err
	}
	b.v = d
	return nil
}

func (q QuoteQty) MarshalJSON() ([]byte, error) { return json.Marshal(q.v.String()) }
func (q *QuoteQty) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return err
	}
	q.v = d
	return nil
}

// IsFinite rejects NaN/Inf per the numeric-semantics discipline: floats entering
// the engines (rates, ratios, bps) must never be NaN or infinite.
func IsFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// ClampFinite returns f clamped to [lo, hi], or fallback if f is not finite.
func ClampFinite(f, lo, hi, fallback float64) float64 {
	if !IsFinite(f) {
		return fallback
	}
	if f < lo {
		return lo
	}
	if f > hi {
		return hi
	}
	return f
}
