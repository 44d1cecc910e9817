package xlread

import (
	"fmt"
	"strconv"
	"time"
)

// Kind identifies the type held by a Value.
type Kind int

// Value kinds.
const (
	KindEmpty Kind = iota
	KindString
	KindFloat
	KindInt
	KindBool
	KindDate
	KindDateTime
	KindTime
	KindDuration
	KindError
)

var kindNames = [...]string{
	KindEmpty:    "empty",
	KindString:   "string",
	KindFloat:    "float",
	KindInt:      "int",
	KindBool:     "bool",
	KindDate:     "date",
	KindDateTime: "datetime",
	KindTime:     "time",
	KindDuration: "duration",
	KindError:    "error",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// TimeOfDay is a time of day, measured from midnight.
type TimeOfDay time.Duration

// Clock returns the hour, minute, second and nanosecond of t.
func (t TimeOfDay) Clock() (hour, min, sec, nsec int) {
	d := time.Duration(t)
	hour = int(d / time.Hour)
	d -= time.Duration(hour) * time.Hour
	min = int(d / time.Minute)
	d -= time.Duration(min) * time.Minute
	sec = int(d / time.Second)
	d -= time.Duration(sec) * time.Second
	return hour, min, sec, int(d)
}

func (t TimeOfDay) String() string {
	h, m, s, ns := t.Clock()
	if ns == 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d:%02d.%06d", h, m, s, ns/1000)
}

// CellError is the code text of a cell error, such as "#DIV/0!".
type CellError string

func (e CellError) String() string { return string(e) }

// Value is a single decoded cell. The zero Value is Empty.
type Value struct {
	kind Kind
	s    string
	f    float64
	i    int64
	t    time.Time
	d    time.Duration
}

func StringValue(s string) Value { return Value{kind: KindString, s: s} }

func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }

func IntValue(i int64) Value { return Value{kind: KindInt, i: i} }

func BoolValue(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.i = 1
	}
	return v
}

// DateValue holds a calendar date; any clock part of t is dropped.
func DateValue(t time.Time) Value {
	y, m, d := t.Date()
	return Value{kind: KindDate, t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func DateTimeValue(t time.Time) Value { return Value{kind: KindDateTime, t: t} }

func TimeValue(t TimeOfDay) Value { return Value{kind: KindTime, d: time.Duration(t)} }

func DurationValue(d time.Duration) Value { return Value{kind: KindDuration, d: d} }

func ErrorValue(code string) Value { return Value{kind: KindError, s: code} }

// Kind returns the kind of v.
func (v Value) Kind() Kind { return v.kind }

// IsEmpty reports whether v is the Empty value.
func (v Value) IsEmpty() bool { return v.kind == KindEmpty }

func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }

func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

func (v Value) AsBool() (bool, bool) { return v.i != 0, v.kind == KindBool }

// AsTime returns the instant held by a Date or DateTime value.
func (v Value) AsTime() (time.Time, bool) {
	return v.t, v.kind == KindDate || v.kind == KindDateTime
}

func (v Value) AsTimeOfDay() (TimeOfDay, bool) { return TimeOfDay(v.d), v.kind == KindTime }

func (v Value) AsDuration() (time.Duration, bool) { return v.d, v.kind == KindDuration }

// AsError returns the error code text of an Error value.
func (v Value) AsError() (string, bool) { return v.s, v.kind == KindError }

// Interface returns the natural Go representation of v: nil, string,
// float64, int64, bool, time.Time, TimeOfDay, time.Duration or CellError.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindString:
		return v.s
	case KindFloat:
		return v.f
	case KindInt:
		return v.i
	case KindBool:
		return v.i != 0
	case KindDate, KindDateTime:
		return v.t
	case KindTime:
		return TimeOfDay(v.d)
	case KindDuration:
		return v.d
	case KindError:
		return CellError(v.s)
	}
	return nil
}

// String renders v for display. Empty renders as "".
func (v Value) String() string {
	switch v.kind {
	case KindString, KindError:
		return v.s
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindBool:
		if v.i != 0 {
			return "TRUE"
		}
		return "FALSE"
	case KindDate:
		return v.t.Format("2006-01-02")
	case KindDateTime:
		if v.t.Nanosecond() == 0 {
			return v.t.Format("2006-01-02 15:04:05")
		}
		return v.t.Format("2006-01-02 15:04:05.000")
	case KindTime:
		return TimeOfDay(v.d).String()
	case KindDuration:
		return formatDuration(v.d)
	}
	return ""
}

// formatDuration renders d as [-]h:mm:ss[.fff] with unbounded hours.
func formatDuration(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	ms := (d - s*time.Second) / time.Millisecond
	if ms == 0 {
		return fmt.Sprintf("%s%d:%02d:%02d", sign, h, m, s)
	}
	return fmt.Sprintf("%s%d:%02d:%02d.%03d", sign, h, m, s, ms)
}

// Equal reports whether v and o hold the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString, KindError:
		return v.s == o.s
	case KindFloat:
		return v.f == o.f
	case KindInt, KindBool:
		return v.i == o.i
	case KindDate, KindDateTime:
		return v.t.Equal(o.t)
	case KindTime, KindDuration:
		return v.d == o.d
	}
	return true
}
