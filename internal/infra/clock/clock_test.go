package clock_test

import (
	"testing"
	"time"

	"github.com/y3owk1n/kioku/internal/infra/clock"
)

func TestSystemNow(t *testing.T) {
	now := clock.System{}.Now()
	wall := float64(time.Now().Unix())

	if now < wall-1 || now > wall+1 {
		t.Errorf("System.Now() = %f, want within a second of %f", now, wall)
	}
}

func TestFakeAdvance(t *testing.T) {
	clk := clock.NewFake(100)

	if clk.Now() != 100 {
		t.Errorf("Now() = %f, want 100", clk.Now())
	}

	clk.Advance(2.5)

	if clk.Now() != 102.5 {
		t.Errorf("Now() = %f, want 102.5", clk.Now())
	}
}
