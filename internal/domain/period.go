package domain

import "fmt"

// Period is the repetition-interval bucket of an item.
// Values are ordered: Daily < Weekly < Biweekly < Monthly.
type Period int

const (
	Daily Period = iota + 1
	Weekly
	Biweekly
	Monthly
)

var (
	periodNames  = [...]string{Daily: "daily", Weekly: "weekly", Biweekly: "biweekly", Monthly: "monthly"}
	periodByName = map[string]Period{
		"daily":    Daily,
		"weekly":   Weekly,
		"biweekly": Biweekly,
		"monthly":  Monthly,
	}
)

// Periods lists every period in ascending order.
func Periods() []Period {
	return []Period{Daily, Weekly, Biweekly, Monthly}
}

// Valid reports whether p is one of the declared periods.
func (p Period) Valid() bool {
	return p >= Daily && p <= Monthly
}

// Level is the 1-based position of p in the ordering.
func (p Period) Level() int {
	return int(p)
}

// Longer returns the next longer period. ok is false for Monthly.
func (p Period) Longer() (next Period, ok bool) {
	if !p.Valid() || p == Monthly {
		return p, false
	}
	return p + 1, true
}

// Shorter returns the next shorter period. ok is false for Daily.
func (p Period) Shorter() (prev Period, ok bool) {
	if !p.Valid() || p == Daily {
		return p, false
	}
	return p - 1, true
}

func (p Period) String() string {
	if p.Valid() {
		return periodNames[p]
	}
	return fmt.Sprintf("Period(%d)", int(p))
}

// ParsePeriod converts a stored period name back into a Period.
func ParsePeriod(s string) (Period, error) {
	p, ok := periodByName[s]
	if !ok {
		return 0, fmt.Errorf("invalid period: %q", s)
	}
	return p, nil
}
