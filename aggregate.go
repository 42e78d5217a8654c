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
	"math"

	"github.com/ctessum/sparse"
)

// Aggregator maps fields on a fine grid onto a coarser target grid using
// area-weighted N×N block aggregation. It is created once per run and
// used for every timestep.
type Aggregator struct {
	fine, target GridDescriptor
	n            int

	// rowOff and colOff are the position of the target grid's upper-left
	// corner in fine-grid cell units. They may be negative.
	rowOff, colOff int

	// weights holds the area of each fine cell. If nil, all cells have
	// the same weight.
	weights *sparse.DenseArray
}

// NewAggregator validates the fine and target grids and the weights and
// returns an aggregator for them. weights may be nil for uniform weights;
// otherwise its shape must be [fine.Rows, fine.Cols].
// The target cell size must be an integer multiple of the fine cell size
// and the target corner must lie on a fine cell corner; otherwise an
// *IncompatibleResolutionError is returned.
func NewAggregator(fine, target GridDescriptor, weights *sparse.DenseArray) (*Aggregator, error) {
	if err := fine.Validate(); err != nil {
		return nil, err
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}
	n, err := blockSize(fine, target)
	if err != nil {
		return nil, err
	}
	a := &Aggregator{fine: fine, target: target, n: n, weights: weights}

	fd := fine.delta()
	colOff := (target.XUL - fine.XUL) / fd
	rowOff := (fine.YUL - target.YUL) / fd
	if math.Abs(colOff-math.Round(colOff)) > 1e-6 || math.Abs(rowOff-math.Round(rowOff)) > 1e-6 {
		return nil, &IncompatibleResolutionError{
			FineArcMin:   fine.CellSizeArcMin(),
			TargetArcMin: target.CellSizeArcMin(),
			Reason:       fmt.Sprintf("target corner (%g, %g) is not aligned with the input grid", target.XUL, target.YUL),
		}
	}
	a.colOff, a.rowOff = int(math.Round(colOff)), int(math.Round(rowOff))

	if !target.Bounds().Overlaps(fine.Bounds()) {
		return nil, &IncompatibleResolutionError{
			FineArcMin:   fine.CellSizeArcMin(),
			TargetArcMin: target.CellSizeArcMin(),
			Reason:       "the target grid does not overlap the input grid",
		}
	}

	if weights != nil {
		if err := checkShape(weights, fine); err != nil {
			return nil, fmt.Errorf("metregrid: cell area weights: %v", err)
		}
	}
	return a, nil
}

// BlockSize returns the number of fine cells along each edge of a
// target cell.
func (a *Aggregator) BlockSize() int { return a.n }

// Target returns the target grid.
func (a *Aggregator) Target() GridDescriptor { return a.target }

func checkShape(field *sparse.DenseArray, g GridDescriptor) error {
	if len(field.Shape) != 2 || field.Shape[0] != g.Rows || field.Shape[1] != g.Cols {
		return fmt.Errorf("field shape %v does not match the %dx%d grid", field.Shape, g.Rows, g.Cols)
	}
	return nil
}

// weight returns the weight of fine cell k and whether it is usable.
func (a *Aggregator) weight(k int) (float64, bool) {
	if a.weights == nil {
		return 1, true
	}
	w := a.weights.Elements[k]
	if w == MissingValue || math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
		return 0, false
	}
	return w, true
}

// Aggregate returns the area-weighted block mean of field on the target
// grid. Fine cells equal to MissingValue are excluded from both the
// weighted sum and the total weight; target cells without any valid fine
// cell are set to MissingValue. A field whose shape does not match the fine
// grid is an error.
func (a *Aggregator) Aggregate(field *sparse.DenseArray) (*sparse.DenseArray, error) {
	if err := checkShape(field, a.fine); err != nil {
		return nil, fmt.Errorf("metregrid: aggregating: %v", err)
	}
	if a.n == 1 && a.rowOff == 0 && a.colOff == 0 && a.target.Rows == a.fine.Rows && a.target.Cols == a.fine.Cols {
		return a.maskedCopy(field), nil
	}
	out := sparse.ZerosDense(a.target.Rows, a.target.Cols)
	fr, fc := a.fine.Rows, a.fine.Cols
	for j := 0; j < a.target.Rows; j++ {
		for i := 0; i < a.target.Cols; i++ {
			var sum, wsum, last float64
			count := 0
			for jj := j*a.n + a.rowOff; jj < (j+1)*a.n+a.rowOff; jj++ {
				if jj < 0 || jj >= fr {
					continue
				}
				for ii := i*a.n + a.colOff; ii < (i+1)*a.n+a.colOff; ii++ {
					if ii < 0 || ii >= fc {
						continue
					}
					k := jj*fc + ii
					v := field.Elements[k]
					if v == MissingValue || math.IsNaN(v) {
						continue
					}
					w, ok := a.weight(k)
					if !ok {
						continue
					}
					sum += v * w
					wsum += w
					if w > 0 {
						last = v
						count++
					}
				}
			}
			var val float64
			switch {
			case wsum == 0:
				val = MissingValue
			case count == 1:
				val = last
			default:
				val = sum / wsum
			}
			out.Elements[j*a.target.Cols+i] = val
		}
	}
	return out, nil
}

// maskedCopy handles the 1×1 case: every valid cell is copied unchanged
// and every other cell becomes MissingValue.
func (a *Aggregator) maskedCopy(field *sparse.DenseArray) *sparse.DenseArray {
	out := sparse.ZerosDense(a.fine.Rows, a.fine.Cols)
	for k, v := range field.Elements {
		w, ok := a.weight(k)
		if v == MissingValue || math.IsNaN(v) || !ok || w == 0 {
			out.Elements[k] = MissingValue
			continue
		}
		out.Elements[k] = v
	}
	return out
}
