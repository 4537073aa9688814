package portfolio

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"trading-signalbot/internal/indicator"
	"trading-signalbot/internal/model"
	"trading-signalbot/internal/strategy"
)

var (
	// ErrNoAction is returned for a Hold signal.
	ErrNoAction = errors.New("portfolio: no action for hold signal")
	// ErrInsufficientData is returned when ATR has no value yet.
	ErrInsufficientData = errors.New("portfolio: no volatility estimate")
	// ErrSizingRejected is returned when lot size or margin constraints fail.
	ErrSizingRejected = errors.New("portfolio: sizing rejected")
)

// Rejection reasons carried by RejectionError.
const (
	ReasonMargin      = "margin"
	ReasonBelowMinLot = "below_min_lot"
	ReasonBadInput    = "bad_input"
)

// RejectionError describes why a sizing was rejected. It matches
// ErrSizingRejected with errors.Is.
type RejectionError struct {
	Reason string
	Detail string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s (%s): %s", ErrSizingRejected, e.Reason, e.Detail)
}

func (e *RejectionError) Unwrap() error { return ErrSizingRejected }

func reject(reason, format string, args ...any) error {
	return &RejectionError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// RejectReason returns the rejection reason in err, or "" if err is not a
// sizing rejection.
func RejectReason(err error) string {
	var re *RejectionError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ""
}

// SizingConfig holds the risk sizing tunables.
type SizingConfig struct {
	ATRStopMultiplier  float64 `json:"atr_stop_multiplier"`
	RiskRewardRatio    float64 `json:"risk_reward_ratio"`
	RiskPerTrade       float64 `json:"risk_per_trade"` // fraction of balance, e.g. 0.01
	Leverage           float64 `json:"leverage"`
	StrengthMultiplier float64 `json:"strength_multiplier"` // > 1, applied to strong signals

	MinQuantity  float64 `json:"min_quantity"`
	MaxQuantity  float64 `json:"max_quantity"`  // 0 = unlimited
	QuantityStep float64 `json:"quantity_step"` // lot step; 0 = no rounding
}

// DefaultSizingConfig returns conservative defaults.
func DefaultSizingConfig() SizingConfig {
	return SizingConfig{
		ATRStopMultiplier:  1.5,
		RiskRewardRatio:    2,
		RiskPerTrade:       0.01,
		Leverage:           1,
		StrengthMultiplier: 1.5,
		MinQuantity:        0.001,
		MaxQuantity:        0,
		QuantityStep:       0.001,
	}
}

// RiskDecision is a sized order with protective levels. Created once per
// actionable signal and never mutated.
type RiskDecision struct {
	Signal         strategy.Signal `json:"signal"`
	Side           model.Side      `json:"side"`
	Quantity       float64         `json:"quantity"`
	EntryPriceHint float64         `json:"entry_price_hint"`
	StopLoss       float64         `json:"stop_loss"`
	TakeProfit     float64         `json:"take_profit"`
	StopDistance   float64         `json:"stop_distance"`
	RiskCapital    float64         `json:"risk_capital"`
	Margin         float64         `json:"margin"`
}

// Sizer turns signals into RiskDecisions. It is stateless and safe for
// concurrent use.
type Sizer struct {
	cfg  SizingConfig
	step decimal.Decimal
}

// NewSizer creates a Sizer with the given config.
func NewSizer(cfg SizingConfig) *Sizer {
	s := &Sizer{cfg: cfg}
	if cfg.QuantityStep > 0 {
		s.step = decimal.NewFromFloat(cfg.QuantityStep)
	}
	return s
}

// Config returns the sizing config.
func (s *Sizer) Config() SizingConfig { return s.cfg }

// Size computes quantity, stop-loss and take-profit for sig.
//
// Returns ErrNoAction for Hold and ErrInsufficientData without a usable ATR.
// Returns an error matching ErrSizingRejected when the quantity falls below
// the minimum lot or its margin (quantity × entry / leverage) exceeds balance.
// A strong signal's scaled quantity is capped at what the balance can carry
// but never below the plain quantity.
func (s *Sizer) Size(sig strategy.Signal, balance float64, atr indicator.Reading, entry float64) (RiskDecision, error) {
	side, ok := sig.Side()
	if !ok {
		return RiskDecision{}, ErrNoAction
	}
	if !atr.Ready || atr.Value <= 0 || math.IsNaN(atr.Value) {
		return RiskDecision{}, ErrInsufficientData
	}
	if entry <= 0 || balance <= 0 {
		return RiskDecision{}, reject(ReasonBadInput, "entry=%.8f balance=%.8f", entry, balance)
	}

	stopDistance := atr.Value * s.cfg.ATRStopMultiplier
	riskCapital := balance * s.cfg.RiskPerTrade
	raw := riskCapital / stopDistance

	qty := s.lot(raw)
	if qty <= 0 {
		return RiskDecision{}, reject(ReasonBelowMinLot, "raw quantity %.8f rounds to zero", raw)
	}
	if m := s.margin(qty, entry); m > balance {
		return RiskDecision{}, reject(ReasonMargin, "margin %.2f exceeds balance %.2f", m, balance)
	}

	if sig.IsStrong() && s.cfg.StrengthMultiplier > 1 {
		scaled := s.lot(raw * s.cfg.StrengthMultiplier)
		if s.margin(scaled, entry) > balance {
			scaled = s.floorStep(balance * s.leverage() / entry)
		}
		if scaled > qty && s.margin(scaled, entry) <= balance {
			qty = scaled
		}
	}

	d := RiskDecision{
		Signal:         sig,
		Side:           side,
		Quantity:       qty,
		EntryPriceHint: entry,
		StopDistance:   stopDistance,
		RiskCapital:    riskCapital,
		Margin:         s.margin(qty, entry),
	}
	target := stopDistance * s.cfg.RiskRewardRatio
	if side == model.Long {
		d.StopLoss = entry - stopDistance
		d.TakeProfit = entry + target
	} else {
		d.StopLoss = entry + stopDistance
		d.TakeProfit = entry - target
	}
	return d, nil
}

func (s *Sizer) leverage() float64 {
	if s.cfg.Leverage <= 0 {
		return 1
	}
	return s.cfg.Leverage
}

func (s *Sizer) margin(qty, entry float64) float64 {
	return qty * entry / s.leverage()
}

// lot clamps q to the configured min/max and rounds down to the lot step.
func (s *Sizer) lot(q float64) float64 {
	if q < s.cfg.MinQuantity {
		q = s.cfg.MinQuantity
	}
	if s.cfg.MaxQuantity > 0 && q > s.cfg.MaxQuantity {
		q = s.cfg.MaxQuantity
	}
	return s.floorStep(q)
}

func (s *Sizer) floorStep(q float64) float64 {
	if s.step.IsZero() || q <= 0 {
		return q
	}
	return decimal.NewFromFloat(q).Div(s.step).Floor().Mul(s.step).InexactFloat64()
}
