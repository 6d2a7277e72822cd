package display

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHistory_EvictsOldestAtCapacity(t *testing.T) {
	h := NewHistory(3)

	h.Add(1)
	h.Add(2)
	h.Add(3)
	assert.Equal(t, []float64{1, 2, 3}, h.Values())

	h.Add(4)
	assert.Equal(t, []float64{2, 3, 4}, h.Values())
	assert.Equal(t, 3, h.Len())
}

func TestHistory_Trend(t *testing.T) {
	h := NewHistory(10)
	assert.Equal(t, "neutral", h.Trend())

	h.Add(2.0)
	assert.Equal(t, "neutral", h.Trend())

	h.Add(2.5)
	assert.Equal(t, "up", h.Trend())

	h.Add(1.5)
	assert.Equal(t, "down", h.Trend())
}

func TestHistory_Clear(t *testing.T) {
	h := NewHistory(5)
	h.Add(1)
	h.Add(2)
	h.Clear()
	assert.Equal(t, 0, h.Len())
	assert.Empty(t, h.Values())
}

func TestHistory_DefaultCapacity(t *testing.T) {
	h := NewHistory(0)
	for i := 0; i < DefaultHistoryPoints+5; i++ {
		h.Add(float64(i))
	}
	assert.Equal(t, DefaultHistoryPoints, h.Len())
}
