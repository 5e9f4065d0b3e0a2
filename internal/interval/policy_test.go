package interval

import (
	"testing"

	"github.com/conorfennell/knolbot/internal/domain"
)

func TestPromote(t *testing.T) {
	policy := DefaultPolicy()

	testCases := []struct {
		name     string
		current  domain.Period
		correct  int
		expected domain.Period
	}{
		{"daily at T stays", domain.Daily, 5, domain.Daily},
		{"daily above T promotes", domain.Daily, 6, domain.Weekly},
		{"weekly at 2T stays", domain.Weekly, 10, domain.Weekly},
		{"weekly above 2T promotes", domain.Weekly, 11, domain.Biweekly},
		{"biweekly at 3T stays", domain.Biweekly, 15, domain.Biweekly},
		{"biweekly above 3T promotes", domain.Biweekly, 16, domain.Monthly},
		{"monthly is terminal", domain.Monthly, 100, domain.Monthly},
		{"large count moves one step", domain.Daily, 100, domain.Weekly},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := policy.Promote(tc.current, tc.correct, 0)
			if d.To != tc.expected {
				t.Errorf("Expected %s, but got %s", tc.expected, d.To)
			}
			if d.Notify != d.Changed() {
				t.Errorf("Expected Notify to be %v when Changed is %v", d.Changed(), d.Notify)
			}
			if d.From != tc.current {
				t.Errorf("Expected From to be %s, but got %s", tc.current, d.From)
			}
		})
	}
}

func TestDemote(t *testing.T) {
	policy := DefaultPolicy()

	testCases := []struct {
		name     string
		current  domain.Period
		wrong    int
		expected domain.Period
	}{
		{"monthly at T stays", domain.Monthly, 5, domain.Monthly},
		{"monthly above T demotes", domain.Monthly, 6, domain.Biweekly},
		{"biweekly above T demotes", domain.Biweekly, 6, domain.Weekly},
		{"weekly above T demotes", domain.Weekly, 6, domain.Daily},
		{"daily is terminal", domain.Daily, 100, domain.Daily},
		{"large count moves one step", domain.Monthly, 100, domain.Biweekly},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := policy.Demote(tc.current, 0, tc.wrong)
			if d.To != tc.expected {
				t.Errorf("Expected %s, but got %s", tc.expected, d.To)
			}
			if d.Notify != d.Changed() {
				t.Errorf("Expected Notify to be %v when Changed is %v", d.Changed(), d.Notify)
			}
		})
	}
}

func TestAdjacentSteps(t *testing.T) {
	policy := DefaultPolicy()
	for _, p := range domain.Periods() {
		for n := 0; n <= 50; n++ {
			up := policy.Promote(p, n, n)
			if diff := up.To.Level() - p.Level(); diff < 0 || diff > 1 {
				t.Fatalf("Promote(%s, %d) jumped to %s", p, n, up.To)
			}
			down := policy.Demote(p, n, n)
			if diff := p.Level() - down.To.Level(); diff < 0 || diff > 1 {
				t.Fatalf("Demote(%s, %d) jumped to %s", p, n, down.To)
			}
		}
	}
}

func TestCustomThreshold(t *testing.T) {
	policy := &Policy{Threshold: 1}
	if d := policy.Promote(domain.Daily, 2, 0); d.To != domain.Weekly {
		t.Errorf("Expected promotion with T=1 and 2 correct answers, got %s", d.To)
	}
	if d := policy.Demote(domain.Weekly, 0, 1); d.Changed() {
		t.Errorf("Expected no demotion with T=1 and 1 wrong answer, got %s", d.To)
	}
}
