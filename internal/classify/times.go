package classify

import (
	"fmt"
	"regexp"
	"strconv"
)

// ClockTime is a time of day found in listing text.
type ClockTime struct {
	Hour   int
	Minute int
}

// Minutes returns minutes since midnight.
func (c ClockTime) Minutes() int { return c.Hour*60 + c.Minute }

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// HH:MM allows one-digit hours; HH.MM and HHhMM need two so prices such as
// "7.50" are not read as times.
var clockRe = regexp.MustCompile(`\b(?:([01]?\d|2[0-3]):([0-5]\d)|([01]\d|2[0-3])[.hH]([0-5]\d))\b`)

// FindTimes returns the distinct clock times in text, in order of first
// appearance.
func FindTimes(text string) []ClockTime {
	var out []ClockTime
	seen := make(map[int]bool)
	for _, m := range clockRe.FindAllStringSubmatch(text, -1) {
		h, mm := m[1], m[2]
		if h == "" {
			h, mm = m[3], m[4]
		}
		hour, err1 := strconv.Atoi(h)
		minute, err2 := strconv.Atoi(mm)
		if err1 != nil || err2 != nil {
			continue
		}
		ct := ClockTime{Hour: hour, Minute: minute}
		if seen[ct.Minutes()] {
			continue
		}
		seen[ct.Minutes()] = true
		out = append(out, ct)
	}
	return out
}
