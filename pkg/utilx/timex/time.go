package timex

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ParseDuration parses either a plain number of milliseconds ("5000") or a Go duration string ("5s").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if millis, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Millis(millis), nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.WithMessagef(err, "unable to parse duration %q as milliseconds or duration string", s)
	}

	return d, nil
}

// Millis converts a millisecond count into a time.Duration.
func Millis(millis int64) time.Duration {
	return time.Duration(millis) * time.Millisecond
}
