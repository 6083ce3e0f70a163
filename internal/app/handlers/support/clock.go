package support

import "time"

// Clock returns the current time. Handlers default to UTC wall time.
type Clock func() time.Time

func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}
