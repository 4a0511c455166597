package services

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    float64
		wantErr bool
	}{
		{"integer", "100", 100, false},
		{"decimal with spaces", " 12.5 ", 12.5, false},
		{"zero", "0", 0, false},
		{"empty", "", 0, true},
		{"text", "abc", 0, true},
		{"negative", "-3", 0, true},
		{"nan", "NaN", 0, true},
		{"inf", "Inf", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseQuantity("units", tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrValidation))
				var ve *ValidationError
				require.True(t, errors.As(err, &ve))
				assert.Equal(t, "units", ve.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseOptionalQuantityDefaults(t *testing.T) {
	v, err := ParseOptionalQuantity("multiplier", "", 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	v, err = ParseOptionalQuantity("multiplier", "40", 1)
	require.NoError(t, err)
	assert.Equal(t, 40.0, v)

	_, err = ParseOptionalQuantity("multiplier", "x", 1)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestParseDayNormalizesToMidnight(t *testing.T) {
	a, err := ParseDay("date", "2024-05-10")
	require.NoError(t, err)
	b, err := ParseDay("date", "2024-05-10T18:45:00Z")
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
	assert.Equal(t, 0, b.Hour())

	_, err = ParseDay("date", "10/05/2024")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestParseMonth(t *testing.T) {
	p, err := ParseMonth("month", "2024-02")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), p.Start)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), p.End)
	assert.Equal(t, "2024-02", p.Month())
	assert.True(t, p.IsCalendarMonth())

	_, err = ParseMonth("month", "Feb 2024")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestParseMonthDefaultsToCurrentMonth(t *testing.T) {
	restore := now
	now = func() time.Time { return time.Date(2024, 7, 19, 13, 0, 0, 0, time.UTC) }
	defer func() { now = restore }()

	p, err := ParseMonth("month", "")
	require.NoError(t, err)
	assert.Equal(t, "2024-07", p.Label())
}

func TestParsePeriodRange(t *testing.T) {
	p, err := ParsePeriod("", "2024-05-10", "2024-05-20")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 21, 0, 0, 0, 0, time.UTC), p.End)
	assert.Equal(t, "2024-05-10..2024-05-20", p.Label())
	assert.False(t, p.IsCalendarMonth())

	_, err = ParsePeriod("", "2024-05-20", "2024-05-10")
	assert.ErrorIs(t, err, ErrValidation)
}
