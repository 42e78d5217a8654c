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

	"github.com/spatialmodel/metregrid/tsfile"
)

// InvalidGridError is returned when a grid descriptor has non-positive
// dimensions or cell size.
type InvalidGridError struct {
	Field string
	Value float64
}

func (e *InvalidGridError) Error() string {
	return fmt.Sprintf("metregrid: invalid grid: %s must be positive but is %g", e.Field, e.Value)
}

// IncompatibleResolutionError is returned when the target grid cannot be
// produced from the fine grid by N×N block aggregation.
type IncompatibleResolutionError struct {
	FineArcMin, TargetArcMin float64
	Reason                   string
}

func (e *IncompatibleResolutionError) Error() string {
	return fmt.Sprintf("metregrid: cannot aggregate %g arc minute grid to %g arc minutes: %s",
		e.FineArcMin, e.TargetArcMin, e.Reason)
}

// MissingInputError is returned when the input for a timestep cannot be
// read. The driver treats it as a data gap rather than a fatal error.
type MissingInputError struct {
	Path string
	Date time.Time
	Err  error
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("metregrid: missing input %s for %s: %v", e.Path, e.Date.Format(DateFormat), e.Err)
}

func (e *MissingInputError) Unwrap() error { return e.Err }

// FileExistsConflictError is returned when an open output file is created
// again with different geometry.
type FileExistsConflictError = tsfile.FileExistsConflictError

// IOFlushError is returned when an output write or flush fails.
type IOFlushError = tsfile.IOFlushError
