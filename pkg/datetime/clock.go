package datetime

import (
	"fmt"
	"time"
)

// Clock provides the current time. The engine and the simulator take a Clock
// instead of calling time.Now directly so that a run can be replayed against
// a pretended "now".
type Clock interface {
	// Now returns the current time according to this clock.
	Now() time.Time
}

// SystemClock is a Clock backed by the system wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// PretendClock reports time as if the process had started at a fixed
// instant. Elapsed wall-clock time still advances, so relative ordering and
// timer behaviour are preserved while absolute timestamps are shifted.
type PretendClock struct {
	base  time.Time
	start time.Time
}

// NewPretendClock creates a clock that reports now as base plus however much
// real time has elapsed since the clock was created.
func NewPretendClock(base time.Time) *PretendClock {
	return &PretendClock{base: base, start: time.Now()}
}

// Now returns the pretended current time.
func (c *PretendClock) Now() time.Time {
	return c.base.Add(time.Since(c.start))
}

// ParseTime parses an absolute timestamp in RFC 3339 form, or the common
// "2006-01-02 15:04:05" and "2006-01-02" spellings used on the command line.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
