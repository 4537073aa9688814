package indicator

import "time"

// Snapshot is the immutable output of one recompute. Fields stay unready
// until their period has been seen since the last reset.
type Snapshot struct {
	TS      time.Time `json:"ts"`      // close time of the newest candle consumed
	Candles int       `json:"candles"` // candles consumed since the last reset

	MA      Reading `json:"ma"`
	EMA     Reading `json:"ema"`
	BBUpper Reading `json:"bb_upper"`
	BBMid   Reading `json:"bb_mid"`
	BBLower Reading `json:"bb_lower"`
	RSI     Reading `json:"rsi"`
	ATR     Reading `json:"atr"`
}

// Warm reports whether every indicator has a value.
func (s Snapshot) Warm() bool {
	return s.MA.Ready && s.EMA.Ready && s.BBUpper.Ready && s.BBMid.Ready &&
		s.BBLower.Ready && s.RSI.Ready && s.ATR.Ready
}
