package session

// meter converts a per-minute rate into per-tick debit amounts without
// rounding loss. Each tick accumulates the full per-minute rate into a
// numerator and debits the whole-paise quotient, carrying the remainder
// forward, so cumulative debits after N ticks always equal
// floor(N * rate / 60) paise. 1200 paise/min bills exactly 20 paise per
// second; 125 ticks at that rate bill exactly 2500 paise.
type meter struct {
	ratePaisePerMin int64
	carry           int64
}

func newMeter(ratePaisePerMin int64) *meter {
	return &meter{ratePaisePerMin: ratePaisePerMin}
}

// tick returns the paise due for one elapsed billing interval.
func (m *meter) tick() int64 {
	m.carry += m.ratePaisePerMin
	due := m.carry / 60
	m.carry %= 60
	return due
}
