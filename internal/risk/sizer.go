package risk

import (
	"errors"
	"fmt"

	"smc-trading-bot/internal/broker"

	"github.com/shopspring/decimal"
)

// ErrSizing is the sentinel every sizing failure unwraps to
var ErrSizing = errors.New("sizing error")

// SizingError explains why a lot could not be computed
type SizingError struct {
	Reason string
}

func (e *SizingError) Error() string {
	return fmt.Sprintf("sizing error: %s", e.Reason)
}

func (e *SizingError) Unwrap() error {
	return ErrSizing
}

// Sizing is a computed lot with the intermediate values kept for logging
type Sizing struct {
	Lot           float64 `json:"lot"`
	Raw           float64 `json:"raw"`
	RiskAmount    float64 `json:"risk_amount"`
	DistanceTicks float64 `json:"distance_ticks"`
}

// LotSize converts a risk budget into a volume. The raw volume is floored
// to the nearest vol_step, never rounded up, then clamped to
// [vol_min, vol_max].
func LotSize(balance, riskFraction, entry, sl float64, meta broker.SymbolMeta) (Sizing, error) {
	if entry == sl {
		return Sizing{}, &SizingError{Reason: "entry equals stop loss"}
	}
	if meta.TickSize <= 0 {
		return Sizing{}, &SizingError{Reason: fmt.Sprintf("invalid tick size %v", meta.TickSize)}
	}
	if meta.TickValue <= 0 {
		return Sizing{}, &SizingError{Reason: fmt.Sprintf("invalid tick value %v", meta.TickValue)}
	}

	distance := decimal.NewFromFloat(entry).Sub(decimal.NewFromFloat(sl)).Abs()
	ticks := distance.Div(decimal.NewFromFloat(meta.TickSize))
	riskAmount := decimal.NewFromFloat(balance).Mul(decimal.NewFromFloat(riskFraction))
	raw := riskAmount.Div(ticks.Mul(decimal.NewFromFloat(meta.TickValue)))

	lot := raw
	if meta.VolumeStep > 0 {
		step := decimal.NewFromFloat(meta.VolumeStep)
		lot = raw.Div(step).Floor().Mul(step)
	}
	if meta.VolumeMin > 0 {
		lot = decimal.Max(lot, decimal.NewFromFloat(meta.VolumeMin))
	}
	if meta.VolumeMax > 0 {
		lot = decimal.Min(lot, decimal.NewFromFloat(meta.VolumeMax))
	}

	return Sizing{
		Lot:           lot.InexactFloat64(),
		Raw:           raw.InexactFloat64(),
		RiskAmount:    riskAmount.InexactFloat64(),
		DistanceTicks: ticks.InexactFloat64(),
	}, nil
}

// RewardRisk is |tp - entry| / |entry - sl|
func RewardRisk(entry, sl, tp float64) (float64, error) {
	if entry == sl {
		return 0, &SizingError{Reason: "entry equals stop loss"}
	}
	risk := decimal.NewFromFloat(entry).Sub(decimal.NewFromFloat(sl)).Abs()
	reward := decimal.NewFromFloat(tp).Sub(decimal.NewFromFloat(entry)).Abs()
	return reward.Div(risk).InexactFloat64(), nil
}

// Sizer binds the per-trade risk fraction
type Sizer struct {
	RiskFraction float64
}

// NewSizer creates a sizer risking fraction of the balance per trade
func NewSizer(fraction float64) *Sizer {
	return &Sizer{RiskFraction: fraction}
}

// Size computes the lot for one trade
func (s *Sizer) Size(balance, entry, sl float64, meta broker.SymbolMeta) (Sizing, error) {
	return LotSize(balance, s.RiskFraction, entry, sl, meta)
}
