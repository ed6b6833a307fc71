// Package utctime provides a time type serialized in UTC with millisecond precision.
package utctime

import (
	"encoding/json"
	"time"
)

const TimeFormat = "2006-01-02T15:04:05.000Z"

// UTCTime is time.Time serialized to JSON in the TimeFormat.
type UTCTime time.Time

func From(t time.Time) UTCTime {
	return UTCTime(t.UTC().Truncate(time.Millisecond))
}

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

func (v UTCTime) Time() time.Time {
	return time.Time(v)
}

func (v UTCTime) IsZero() bool {
	return time.Time(v).IsZero()
}

func (v UTCTime) String() string {
	return FormatTime(time.Time(v))
}

func (v UTCTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

func (v *UTCTime) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	t, err := time.Parse(TimeFormat, str)
	if err != nil {
		return err
	}
	*v = UTCTime(t)
	return nil
}
