package server

import (
	"regexp"
	"strconv"
	"time"
)

// Line is one parsed console line: "[HH:MM:SS] [Logger]: Text".
type Line struct {
	Time   time.Time
	Logger string
	Text   string
}

var reLogLine = regexp.MustCompile(`^\[([0-9]{2}):([0-9]{2}):([0-9]{2})\] \[([^][]*)\]: (.*)$`)

// ParseLine parses a console line read at now. ok is false when the line
// does not have the log line shape.
func ParseLine(raw string, now time.Time) (Line, bool) {
	m := reLogLine.FindStringSubmatch(raw)
	if m == nil {
		return Line{}, false
	}
	h, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	sec, _ := strconv.Atoi(m[3])
	return Line{Time: Stamp(now, h, minute, sec), Logger: m[4], Text: m[5]}, true
}

// Stamp puts a clock time on today's date. A 23h line read during the
// first hour of the day belongs to yesterday.
func Stamp(now time.Time, hour, minute, sec int) time.Time {
	day := now
	if hour == 23 && now.Hour() == 0 {
		day = now.Add(-time.Hour)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, sec, 0, now.Location())
}
