package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalculator_ExponentialGrowth(t *testing.T) {
	// No jitter so the sequence is exact
	calc := NewCalculatorWith(1*time.Second, 60*time.Second, 2.0, 0)

	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		60 * time.Second,
		60 * time.Second,
	}

	for i, want := range expected {
		got := calc.NextDelay()
		assert.Equal(t, want, got, "delay %d", i)
	}
}

func TestCalculator_JitterBounds(t *testing.T) {
	initial := 1 * time.Second
	maxDelay := 60 * time.Second
	jitter := 0.1

	calc := NewCalculatorWith(initial, maxDelay, 2.0, jitter)

	expected := float64(initial)
	for i := 0; i < 20; i++ {
		got := float64(calc.NextDelay())

		lower := expected * (1 - jitter)
		upper := expected * (1 + jitter)
		if upper > float64(maxDelay) {
			upper = float64(maxDelay)
		}

		assert.GreaterOrEqual(t, got, lower, "delay %d below jitter band", i)
		assert.LessOrEqual(t, got, upper, "delay %d above jitter band", i)
		assert.LessOrEqual(t, got, float64(maxDelay), "delay %d exceeds cap", i)

		expected *= 2.0
		if expected > float64(maxDelay) {
			expected = float64(maxDelay)
		}
	}
}

func TestCalculator_NeverExceedsCap(t *testing.T) {
	maxDelay := 5 * time.Second
	calc := NewCalculatorWith(1*time.Second, maxDelay, 2.0, 0.5)

	for i := 0; i < 50; i++ {
		assert.LessOrEqual(t, calc.NextDelay(), maxDelay)
	}
}

func TestCalculator_Reset(t *testing.T) {
	initial := 1 * time.Second
	calc := NewCalculatorWith(initial, 60*time.Second, 2.0, 0)

	for i := 0; i < 6; i++ {
		calc.NextDelay()
	}

	calc.Reset()
	assert.Equal(t, initial, calc.NextDelay())
}

func TestCalculator_ResetWithJitter(t *testing.T) {
	initial := 1 * time.Second
	jitter := 0.1
	calc := NewCalculatorWith(initial, 60*time.Second, 2.0, jitter)

	for i := 0; i < 10; i++ {
		calc.NextDelay()
	}

	calc.Reset()
	got := float64(calc.NextDelay())
	assert.GreaterOrEqual(t, got, float64(initial)*(1-jitter))
	assert.LessOrEqual(t, got, float64(initial)*(1+jitter))
}
