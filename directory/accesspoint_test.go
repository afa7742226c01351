package directory_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vsla/health-engine/directory"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, time.March, 2, hour, minute, 0, 0, time.UTC)
}

func TestIsOpen_DaytimeWindow(t *testing.T) {
	s := directory.DaySchedule{OpenTime: "08:00", CloseTime: "17:00"}

	assert.True(t, s.IsOpen(at(8, 0)), "opening minute is open")
	assert.True(t, s.IsOpen(at(12, 30)))
	assert.True(t, s.IsOpen(at(17, 0)), "closing minute is open")
	assert.False(t, s.IsOpen(at(7, 59)))
	assert.False(t, s.IsOpen(at(17, 1)))
}

func TestIsOpen_OvernightWindow(t *testing.T) {
	// GIVEN: A youth center open 20:00 to 02:00
	// WHEN: Checked around midnight
	// THEN: The window wraps past midnight

	s := directory.DaySchedule{OpenTime: "20:00", CloseTime: "02:00"}

	assert.True(t, s.IsOpen(at(20, 0)))
	assert.True(t, s.IsOpen(at(23, 59)))
	assert.True(t, s.IsOpen(at(0, 30)))
	assert.True(t, s.IsOpen(at(2, 0)))
	assert.False(t, s.IsOpen(at(2, 1)))
	assert.False(t, s.IsOpen(at(19, 59)))
	assert.False(t, s.IsOpen(at(12, 0)))
}

func TestIsOpen_ClosedDay(t *testing.T) {
	s := directory.DaySchedule{OpenTime: "08:00", CloseTime: "17:00", IsClosed: true}
	assert.False(t, s.IsOpen(at(12, 0)))
}

func TestIsOpen_MalformedTimes(t *testing.T) {
	for _, s := range []directory.DaySchedule{
		{OpenTime: "", CloseTime: "17:00"},
		{OpenTime: "8am", CloseTime: "17:00"},
		{OpenTime: "08:00", CloseTime: ""},
	} {
		assert.False(t, s.IsOpen(at(12, 0)), "malformed schedule %+v treated as closed", s)
	}
}

func TestDayName(t *testing.T) {
	assert.Equal(t, "monday", directory.DayName(time.Monday))
	assert.Equal(t, "sunday", directory.DayName(time.Sunday))
}
