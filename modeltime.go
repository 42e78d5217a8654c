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

package metregrid

import (
	"fmt"
	"time"
)

// DateFormat is the format of dates in configuration and log messages.
const DateFormat = "2006-01-02"

// Default simulation period of the EFAS-Meteo data set.
const (
	DefaultStartDate = "1990-01-01"
	DefaultEndDate   = "2014-10-31"
)

// ModelTime converts a start and end date into a sequence of daily
// timesteps. Both ends are included.
type ModelTime struct {
	start, end time.Time
}

// NewModelTime parses start and end, which must be in DateFormat.
func NewModelTime(start, end string) (*ModelTime, error) {
	s, err := time.Parse(DateFormat, start)
	if err != nil {
		return nil, fmt.Errorf("metregrid: invalid start date: %v", err)
	}
	e, err := time.Parse(DateFormat, end)
	if err != nil {
		return nil, fmt.Errorf("metregrid: invalid end date: %v", err)
	}
	if e.Before(s) {
		return nil, fmt.Errorf("metregrid: end date %s is before start date %s", end, start)
	}
	return &ModelTime{start: s, end: e}, nil
}

// Start returns the first date.
func (m *ModelTime) Start() time.Time { return m.start }

// End returns the last date.
func (m *ModelTime) End() time.Time { return m.end }

// NumSteps returns the number of daily timesteps.
func (m *ModelTime) NumSteps() int {
	// Dates are UTC midnights, so there are no DST gaps.
	return int(m.end.Sub(m.start).Hours()/24) + 1
}

// Date returns the date of step i, where step 0 is the start date.
func (m *ModelTime) Date(i int) time.Time {
	return m.start.AddDate(0, 0, i)
}
