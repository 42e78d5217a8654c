/*
Copyright © 2018 the metregrid authors.
This file is part of metregrid.

metregrid is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

metregrid is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with metregrid.  If not, see <http://www.gnu.org/licenses/>.
*/

package tsfile

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// DefaultTimeUnits is the encoding of the time axis of new files.
const DefaultTimeUnits = "days since 1901-01-01"

// TimeUnits is a parsed CF-style "<unit> since <epoch>" time encoding.
type TimeUnits struct {
	Epoch time.Time
	Step  time.Duration
	units string
}

var timeSteps = map[string]time.Duration{
	"days":    24 * time.Hour,
	"day":     24 * time.Hour,
	"d":       24 * time.Hour,
	"hours":   time.Hour,
	"hour":    time.Hour,
	"hrs":     time.Hour,
	"hr":      time.Hour,
	"h":       time.Hour,
	"minutes": time.Minute,
	"minute":  time.Minute,
	"min":     time.Minute,
	"seconds": time.Second,
	"second":  time.Second,
	"sec":     time.Second,
	"s":       time.Second,
}

var epochLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-1-2 15:4:5",
	"2006-1-2 15:4",
	"2006-01-02",
	"2006-1-2",
}

// ParseTimeUnits parses a time units attribute such as
// "days since 1901-01-01" or "hours since 1900-01-01 00:00:0.0".
// Epochs are interpreted as UTC.
func ParseTimeUnits(s string) (TimeUnits, error) {
	fields := strings.Fields(s)
	if len(fields) < 3 || strings.ToLower(fields[1]) != "since" {
		return TimeUnits{}, fmt.Errorf("tsfile: invalid time units %q", s)
	}
	step, ok := timeSteps[strings.ToLower(fields[0])]
	if !ok {
		return TimeUnits{}, fmt.Errorf("tsfile: unsupported time unit %q in %q", fields[0], s)
	}
	epoch := strings.Join(fields[2:], " ")
	epoch = strings.TrimSuffix(epoch, " UTC")
	epoch = strings.TrimSuffix(epoch, " 0:00")
	epoch = strings.TrimSuffix(epoch, " 00:00")
	epoch = strings.TrimSuffix(epoch, ".0")
	for _, layout := range epochLayouts {
		if t, err := time.Parse(layout, epoch); err == nil {
			return TimeUnits{Epoch: t, Step: step, units: s}, nil
		}
	}
	return TimeUnits{}, fmt.Errorf("tsfile: invalid epoch %q in time units %q", epoch, s)
}

func (u TimeUnits) String() string { return u.units }

// Encode returns t as a number of steps since the epoch.
func (u TimeUnits) Encode(t time.Time) float64 {
	return float64(t.Sub(u.Epoch)) / float64(u.Step)
}

// Decode returns the time v steps after the epoch, rounded to the
// nearest second.
func (u TimeUnits) Decode(v float64) time.Time {
	whole, frac := math.Modf(v)
	t := u.Epoch.Add(time.Duration(whole) * u.Step)
	return t.Add(time.Duration(math.Round(frac*float64(u.Step)/float64(time.Second))) * time.Second).UTC()
}
