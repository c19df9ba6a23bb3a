package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"ms-flashpromo/internal/apperr"
)

const dayLayout = "2006-01-02"

// TimeOfDay is an offset from midnight UTC with second precision.
type TimeOfDay time.Duration

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay(time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second), nil
		}
	}
	return 0, apperr.Validation("invalid time of day %q", s)
}

func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) String() string {
	d := time.Duration(t)
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return apperr.Validation("time of day must be a string: %v", err)
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t TimeOfDay) Value() (driver.Value, error) {
	return t.String(), nil
}

func (t *TimeOfDay) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		return t.scanString(v)
	case []byte:
		return t.scanString(string(v))
	case time.Time:
		*t = TimeOfDay(time.Duration(v.Hour())*time.Hour +
			time.Duration(v.Minute())*time.Minute +
			time.Duration(v.Second())*time.Second)
		return nil
	case nil:
		*t = 0
		return nil
	default:
		return fmt.Errorf("cannot scan %T into TimeOfDay", src)
	}
}

func (t *TimeOfDay) scanString(s string) error {
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// TimeRange is the daily window of a promo on a calendar day, in UTC.
type TimeRange struct {
	Day   time.Time `bun:"day,type:date,notnull" json:"-"`
	Start TimeOfDay `bun:"start_time,type:time,notnull" json:"start_time"`
	End   TimeOfDay `bun:"end_time,type:time,notnull" json:"end_time"`
}

func NewTimeRange(day time.Time, start, end TimeOfDay) (TimeRange, error) {
	tr := TimeRange{Day: truncateDay(day), Start: start, End: end}
	if err := tr.Validate(); err != nil {
		return TimeRange{}, err
	}
	return tr, nil
}

func (tr TimeRange) Validate() error {
	if tr.Start >= tr.End {
		return apperr.Validation("start time %s must be before end time %s", tr.Start, tr.End)
	}
	if tr.End > TimeOfDay(24*time.Hour) {
		return apperr.Validation("end time %s is past midnight", tr.End)
	}
	return nil
}

func (tr TimeRange) StartsAt() time.Time {
	return truncateDay(tr.Day).Add(time.Duration(tr.Start))
}

func (tr TimeRange) EndsAt() time.Time {
	return truncateDay(tr.Day).Add(time.Duration(tr.End))
}

// Contains reports start <= t <= end.
func (tr TimeRange) Contains(t time.Time) bool {
	return !t.Before(tr.StartsAt()) && !t.After(tr.EndsAt())
}

// DayKey formats the window's day for idempotency keys.
func (tr TimeRange) DayKey() string {
	return truncateDay(tr.Day).Format(dayLayout)
}

func (tr TimeRange) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Day   string    `json:"day"`
		Start TimeOfDay `json:"start_time"`
		End   TimeOfDay `json:"end_time"`
	}{tr.DayKey(), tr.Start, tr.End})
}

func (tr *TimeRange) UnmarshalJSON(b []byte) error {
	var raw struct {
		Day   string    `json:"day"`
		Start TimeOfDay `json:"start_time"`
		End   TimeOfDay `json:"end_time"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	day, err := time.Parse(dayLayout, raw.Day)
	if err != nil {
		return apperr.Validation("invalid day %q, expected YYYY-MM-DD", raw.Day)
	}
	*tr = TimeRange{Day: day.UTC(), Start: raw.Start, End: raw.End}
	return nil
}

// DayKey formats t as the calendar day used in rate-limit and idempotency keys.
func DayKey(t time.Time) string {
	return t.UTC().Format(dayLayout)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
