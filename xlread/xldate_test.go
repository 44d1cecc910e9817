package xlread

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXldateAsDatetime(t *testing.T) {
	tests := []struct {
		name     string
		xldate   float64
		date1904 bool
		want     time.Time
	}{
		{"date only", 2741, false, time.Date(1907, 7, 3, 0, 0, 0, 0, time.UTC)},
		{"date only 2", 38406, false, time.Date(2005, 2, 23, 0, 0, 0, 0, time.UTC)},
		{"date only 3", 32266, false, time.Date(1988, 5, 3, 0, 0, 0, 0, time.UTC)},
		{"before the leap year bug", 59, false, time.Date(1900, 2, 28, 0, 0, 0, 0, time.UTC)},
		{"after the leap year bug", 61, false, time.Date(1900, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"datetime", 38406.273611111, false, time.Date(2005, 2, 23, 6, 34, 0, 0, time.UTC)},
		{"1904 epoch", 0, true, time.Date(1904, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"1904 epoch date", 36944, true, time.Date(2005, 2, 23, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, xldateAsDatetime(tt.xldate, tt.date1904))
		})
	}
}

func TestSerialFromTimeRoundTrip(t *testing.T) {
	for _, serial := range []float64{2741, 38406, 61, 40000.5} {
		got := serialFromTime(xldateAsDatetime(serial, false), false)
		assert.InDelta(t, serial, got, 1e-9)
	}
}

func TestConvertNumber(t *testing.T) {
	tests := []struct {
		name  string
		f     float64
		class formatClass
		want  Value
	}{
		{"plain number", 1.25, classNumber, FloatValue(1.25)},
		{"whole date", 38406, classDate, DateValue(time.Date(2005, 2, 23, 0, 0, 0, 0, time.UTC))},
		{"datetime", 38406.5, classDate, DateTimeValue(time.Date(2005, 2, 23, 12, 0, 0, 0, time.UTC))},
		{"time of day", 0.273611111, classDate, TimeValue(TimeOfDay(6*time.Hour + 34*time.Minute))},
		{"time of day 2", 0.741122685, classDate, TimeValue(TimeOfDay(17*time.Hour + 47*time.Minute + 13*time.Second))},
		{"negative date stays a number", -1, classDate, FloatValue(-1)},
		{"out of range date stays a number", 3e6, classDate, FloatValue(3e6)},
		{"duration", 1.5, classDuration, DurationValue(36 * time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := convertNumber(tt.f, tt.class, false)
			assert.True(t, tt.want.Equal(got), "want %v (%s), got %v (%s)", tt.want, tt.want.Kind(), got, got.Kind())
		})
	}
}

func TestParseISODate(t *testing.T) {
	v := parseISODate("2021-03-04")
	require.Equal(t, KindDate, v.Kind())
	assert.Equal(t, "2021-03-04", v.String())

	v = parseISODate("2021-03-04T05:06:07")
	require.Equal(t, KindDateTime, v.Kind())
	assert.Equal(t, "2021-03-04 05:06:07", v.String())

	v = parseISODate("2021-03-04T05:06:07Z")
	assert.Equal(t, KindDateTime, v.Kind())

	v = parseISODate("10:11:12")
	require.Equal(t, KindTime, v.Kind())
	assert.Equal(t, "10:11:12", v.String())

	v = parseISODate("not a date")
	assert.Equal(t, StringValue("not a date"), v)
}

func TestParseISODuration(t *testing.T) {
	tests := []struct {
		in   string
		want Value
	}{
		{"PT10H10M10S", TimeValue(TimeOfDay(10*time.Hour + 10*time.Minute + 10*time.Second))},
		{"PT10H10M10.5S", TimeValue(TimeOfDay(10*time.Hour + 10*time.Minute + 10*time.Second + 500*time.Millisecond))},
		{"PT0H", TimeValue(0)},
		{"PT25H", StringValue("PT25H")},
		{"-PT1H", StringValue("-PT1H")},
		{"garbage", StringValue("garbage")},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := parseISODuration(tt.in)
			assert.True(t, tt.want.Equal(got), "want %v, got %v", tt.want, got)
		})
	}
}
