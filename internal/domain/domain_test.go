package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseBroker(t *testing.T) {
	b, ok := ParseBroker(" exness ")
	assert.True(t, ok)
	assert.Equal(t, BrokerExness, b)

	_, ok = ParseBroker("oanda")
	assert.False(t, ok)
}

func TestCalendarDaysBetween(t *testing.T) {
	tests := []struct {
		name string
		a, b time.Time
		want int
	}{
		{"same day", time.Date(2026, 3, 1, 0, 5, 0, 0, time.UTC), time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC), 0},
		{"across midnight", time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC), time.Date(2026, 3, 2, 0, 1, 0, 0, time.UTC), 1},
		{"seven days", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), time.Date(2026, 3, 8, 1, 0, 0, 0, time.UTC), 7},
		{"non utc input", time.Date(2026, 3, 2, 1, 0, 0, 0, time.FixedZone("UTC+3", 3*3600)), time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CalendarDaysBetween(tt.a, tt.b))
		})
	}
}

func TestLicense_DaysSinceLastTrade(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	_, ok := License{}.DaysSinceLastTrade(now)
	assert.False(t, ok)

	last := now.AddDate(0, 0, -6)
	days, ok := License{LastTradeDate: &last}.DaysSinceLastTrade(now)
	assert.True(t, ok)
	assert.Equal(t, 6, days)
}

func TestValidationError_IsValidation(t *testing.T) {
	err := fmt.Errorf("process: %w", &ValidationError{Field: "volume", Reason: "must be greater than zero"})
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, "process: volume: must be greater than zero", err.Error())
}
