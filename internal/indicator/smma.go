package indicator

// SMMA is Wilder's smoothed moving average over arbitrary inputs.
// First value is the mean of the first period inputs, then
// SMMA = (prev*(period-1) + x) / period.
//
// RSI and ATR both drive their averages through it.
type SMMA struct {
	period  int
	count   int
	sum     float64
	current float64
}

// NewSMMA creates a new SMMA with the given period.
func NewSMMA(period int) *SMMA {
	return &SMMA{period: period}
}

// Add feeds the next input value.
func (s *SMMA) Add(x float64) {
	s.count++

	if s.count <= s.period {
		// Accumulate for initial SMA seed
		s.sum += x
		if s.count == s.period {
			s.current = s.sum / float64(s.period)
		}
		return
	}

	s.current = (s.current*float64(s.period-1) + x) / float64(s.period)
}

// Seed sets the current average directly and marks it ready.
func (s *SMMA) Seed(avg float64) {
	s.current = avg
	s.count = s.period
	s.sum = avg * float64(s.period)
}

func (s *SMMA) Value() float64 { return s.current }
func (s *SMMA) Ready() bool    { return s.count >= s.period }

// Reset clears the SMMA state for reuse.
func (s *SMMA) Reset() {
	s.count = 0
	s.sum = 0
	s.current = 0
}
