package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("20240115")
	require.NoError(t, err)
	assert.Equal(t, Date{Year: 2024, Month: time.January, Day: 15}, d)

	_, err = ParseDate("not-a-date")
	assert.Error(t, err)
}

func TestDateAddDays(t *testing.T) {
	d, err := ParseDate("20240228")
	require.NoError(t, err)
	assert.Equal(t, Date{Year: 2024, Month: time.February, Day: 29}, d.AddDays(1))
	assert.Equal(t, Date{Year: 2024, Month: time.March, Day: 1}, d.AddDays(2))
}

func TestDateBeforeAfter(t *testing.T) {
	a, _ := ParseDate("20240101")
	b, _ := ParseDate("20240102")
	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))
	assert.True(t, b.After(a))
	assert.False(t, a.After(a))
}

func TestDateWeekday(t *testing.T) {
	// 2024-01-01 is a Monday.
	d, err := ParseDate("20240101")
	require.NoError(t, err)
	assert.Equal(t, 0, d.Weekday())
	assert.Equal(t, "monday", CalendarDays[d.Weekday()])

	sunday, _ := ParseDate("20240107")
	assert.Equal(t, 6, sunday.Weekday())
}

func TestDateString(t *testing.T) {
	d := Date{Year: 2024, Month: time.March, Day: 5}
	assert.Equal(t, "20240305", d.String())
}
