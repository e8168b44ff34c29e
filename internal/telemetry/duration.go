package telemetry

import (
	"encoding/json"
	"time"
)

// Duration is a time.Duration that marshals as integer milliseconds to
// match the *_ms field names in result payloads.
type Duration time.Duration

// Since mirrors time.Since for result bookkeeping.
func Since(t time.Time) Duration {
	return Duration(time.Since(t))
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).Milliseconds())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return err
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

// Round truncates to a multiple of r for display.
func (d Duration) Round(r time.Duration) time.Duration {
	return time.Duration(d).Round(r)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}
