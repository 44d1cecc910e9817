package xlread

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const msPerDay = 86400000

var (
	epoch1904       = time.Date(1904, 1, 1, 0, 0, 0, 0, time.UTC)
	epoch1900       = time.Date(1899, 12, 31, 0, 0, 0, 0, time.UTC)
	epoch1900Minus1 = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)
)

// xldateAsDatetime converts an Excel serial number into a time, rounded to
// Excel's millisecond resolution.
func xldateAsDatetime(xldate float64, date1904 bool) time.Time {
	var epoch time.Time
	switch {
	case date1904:
		epoch = epoch1904
	case xldate < 60:
		epoch = epoch1900
	default:
		// Workaround Excel 1900 leap year bug by adjusting the epoch.
		epoch = epoch1900Minus1
	}

	days := math.Floor(xldate)
	ms := int64(math.Round((xldate - days) * msPerDay))
	return epoch.AddDate(0, 0, int(days)).Add(time.Duration(ms) * time.Millisecond)
}

// serialFromTime is the inverse of xldateAsDatetime.
func serialFromTime(t time.Time, date1904 bool) float64 {
	epoch := epoch1900Minus1
	if date1904 {
		epoch = epoch1904
	}
	t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	serial := float64(t.Sub(epoch)) / float64(24*time.Hour)
	if !date1904 && serial < 61 {
		serial--
	}
	return serial
}

// convertNumber turns a numeric cell into a typed value according to the
// class of the number format attached to it.
func convertNumber(f float64, class formatClass, date1904 bool) Value {
	switch class {
	case classDuration:
		return DurationValue(time.Duration(math.Round(f*msPerDay)) * time.Millisecond)
	case classDate:
		if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
			return FloatValue(f)
		}
		if f < 1 {
			ms := int64(math.Round(f*msPerDay)) % msPerDay
			return TimeValue(TimeOfDay(time.Duration(ms) * time.Millisecond))
		}
		t := xldateAsDatetime(f, date1904)
		if y := t.Year(); y < 1 || y > 9999 {
			return FloatValue(f)
		}
		if f == math.Trunc(f) {
			return DateValue(t)
		}
		return DateTimeValue(t)
	}
	return FloatValue(f)
}

var isoDurationRe = regexp.MustCompile(`^(-)?PT?(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?$`)

// parseISODate converts an ODF date-value (or xlsx t="d" value).
// Unparseable input is kept as a string.
func parseISODate(s string) Value {
	switch {
	case strings.Contains(s, "T"):
		s = strings.TrimSuffix(s, "Z")
		if t, err := time.Parse("2006-01-02T15:04:05.999999999", s); err == nil {
			return DateTimeValue(t)
		}
	case strings.Contains(s, ":"):
		if t, err := time.Parse("15:04:05.999999999", s); err == nil {
			h, m, sec := t.Clock()
			d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
				time.Duration(sec)*time.Second + time.Duration(t.Nanosecond())
			return TimeValue(TimeOfDay(d))
		}
	default:
		if t, err := time.Parse("2006-01-02", s); err == nil {
			return DateValue(t)
		}
	}
	return StringValue(s)
}

// parseISODuration converts an ODF time-value such as "PT10H10M10.1S".
// Durations of a day or more have no time-of-day form and are kept as the
// original string.
func parseISODuration(s string) Value {
	m := isoDurationRe.FindStringSubmatch(s)
	if m == nil || m[1] != "" {
		return StringValue(s)
	}
	var d time.Duration
	if m[2] != "" {
		h, _ := strconv.ParseInt(m[2], 10, 64)
		d += time.Duration(h) * time.Hour
	}
	if m[3] != "" {
		min, _ := strconv.ParseInt(m[3], 10, 64)
		d += time.Duration(min) * time.Minute
	}
	if m[4] != "" {
		sec, _ := strconv.ParseFloat(m[4], 64)
		d += time.Duration(math.Round(sec*1e6)) * time.Microsecond
	}
	if d >= 24*time.Hour {
		return StringValue(s)
	}
	return TimeValue(TimeOfDay(d))
}
