package engine

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// durationPattern is the shorthand delay format: days, hours or minutes,
// case-insensitive.
var durationPattern = regexp.MustCompile(`(?i)^(\d+)([dhm])$`)

// deadlineLayouts are tried in order when the shorthand pattern does not
// match.
var deadlineLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDeadline turns a delay duration string into an absolute wake time.
// "3d" means now plus three days; a non-shorthand value falls back to generic
// date parsing, which may yield a time in the past (an immediately expired
// delay). Unparseable input yields nil, never an error.
func ParseDeadline(value string, now time.Time) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	if match := durationPattern.FindStringSubmatch(value); match != nil {
		amount, err := strconv.Atoi(match[1])
		if err != nil {
			return nil
		}

		var deadline time.Time

		switch strings.ToLower(match[2]) {
		case "d":
			deadline = now.Add(time.Duration(amount) * 24 * time.Hour)
		case "h":
			deadline = now.Add(time.Duration(amount) * time.Hour)
		case "m":
			deadline = now.Add(time.Duration(amount) * time.Minute)
		}

		return &deadline
	}

	for _, layout := range deadlineLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return &parsed
		}
	}

	return nil
}
