package timeutil

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDate_DaysSince(t *testing.T) {
	d1 := NewDate(2024, time.February, 28)
	d2 := NewDate(2024, time.March, 1)

	assert.Equal(t, 2, d2.DaysSince(d1))
	assert.Equal(t, -2, d1.DaysSince(d2))
	assert.Equal(t, 0, d1.DaysSince(d1))
}

func TestDate_AddDaysAcrossYear(t *testing.T) {
	d := NewDate(2023, time.December, 31)
	assert.Equal(t, NewDate(2024, time.January, 1), d.AddDays(1))
	assert.Equal(t, NewDate(2023, time.December, 30), d.AddDays(-1))
}

func TestDate_TextRoundTrip(t *testing.T) {
	type wrapper struct {
		Day Date `json:"day"`
	}
	raw, err := json.Marshal(wrapper{Day: NewDate(2024, time.May, 7)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"day":"2024-05-07"}`, string(raw))

	var back wrapper
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, NewDate(2024, time.May, 7), back.Day)
}

func TestDate_ZeroValue(t *testing.T) {
	var d Date
	assert.True(t, d.IsZero())
	assert.Equal(t, "", d.String())
}

func TestCalendar_TodayRespectsTimezone(t *testing.T) {
	almaty := time.FixedZone("Asia/Almaty", 5*60*60)
	cal := NewCalendar(almaty)

	// 20:30 UTC is already the next day in Almaty.
	instant := time.Date(2024, time.March, 10, 20, 30, 0, 0, time.UTC)
	assert.Equal(t, NewDate(2024, time.March, 11), cal.Today(instant))
	assert.Equal(t, 1, cal.Hour(instant))
}

func TestCalendar_StartOfWeekIsMonday(t *testing.T) {
	cal := NewCalendar(time.UTC)

	sunday := time.Date(2024, time.March, 17, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, time.March, 11, 0, 0, 0, 0, time.UTC), cal.StartOfWeek(sunday))

	monday := time.Date(2024, time.March, 11, 0, 0, 1, 0, time.UTC)
	assert.Equal(t, time.Date(2024, time.March, 11, 0, 0, 0, 0, time.UTC), cal.StartOfWeek(monday))
}

func TestCalendar_StartOfMonth(t *testing.T) {
	cal := NewCalendar(time.UTC)
	got := cal.StartOfMonth(time.Date(2024, time.February, 29, 23, 59, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC), got)
}

func TestLoadCalendar_UnknownZone(t *testing.T) {
	_, err := LoadCalendar("Mars/Olympus_Mons")
	assert.Error(t, err)
}

func TestManualClock(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	clock := NewManualClock(start)
	clock.Advance(36 * time.Hour)
	assert.Equal(t, start.Add(36*time.Hour), clock.Now())
}
