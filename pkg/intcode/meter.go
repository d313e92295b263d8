package intcode

// StepMeter counts executed instructions against an optional limit.
type StepMeter struct {
	consumed uint64
	limit    uint64 // 0 means unlimited
}

// NewStepMeter creates a meter. A zero limit never runs out.
func NewStepMeter(limit uint64) *StepMeter {
	return &StepMeter{limit: limit}
}

// Consume accounts for cost steps, failing with ErrStepLimitExceeded when
// the limit would be passed. Nothing is consumed on failure.
func (sm *StepMeter) Consume(cost uint64) error {
	if sm.limit > 0 && sm.consumed+cost > sm.limit {
		return ErrStepLimitExceeded
	}
	sm.consumed += cost
	return nil
}

// Consumed returns the number of steps executed so far.
func (sm *StepMeter) Consumed() uint64 {
	return sm.consumed
}

// Remaining returns the steps left before the limit, or 0 when unlimited.
func (sm *StepMeter) Remaining() uint64 {
	if sm.limit == 0 || sm.consumed >= sm.limit {
		return 0
	}
	return sm.limit - sm.consumed
}

// Limit returns the configured limit.
func (sm *StepMeter) Limit() uint64 {
	return sm.limit
}

// SetLimit replaces the limit without touching the consumed count.
func (sm *StepMeter) SetLimit(limit uint64) {
	sm.limit = limit
}

// IsExhausted reports whether no further step can be consumed.
func (sm *StepMeter) IsExhausted() bool {
	return sm.limit > 0 && sm.consumed >= sm.limit
}

// Reset zeroes the consumed count.
func (sm *StepMeter) Reset() {
	sm.consumed = 0
}

func (sm *StepMeter) clone() *StepMeter {
	c := *sm
	return &c
}
