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
	"strings"

	"github.com/ctessum/geom"
	"github.com/spatialmodel/metregrid/raster"
	"github.com/spf13/cast"
)

// GridDescriptor describes a regular latitude/longitude grid with square
// cells. Row 0 is the northernmost row.
type GridDescriptor struct {
	Rows, Cols int

	// CellSize is the cell edge length in degrees.
	CellSize float64

	// XUL and YUL are the longitude and latitude of the upper-left corner.
	XUL, YUL float64
}

// Validate returns an *InvalidGridError if d has non-positive dimensions
// or cell size.
func (d GridDescriptor) Validate() error {
	switch {
	case d.Rows <= 0:
		return &InvalidGridError{Field: "rows", Value: float64(d.Rows)}
	case d.Cols <= 0:
		return &InvalidGridError{Field: "cols", Value: float64(d.Cols)}
	case !(d.CellSize > 0):
		return &InvalidGridError{Field: "cellsize", Value: d.CellSize}
	case !(d.CellSizeArcMin() > 0):
		return &InvalidGridError{Field: "cellsize in arc minutes", Value: d.CellSizeArcMin()}
	}
	return nil
}

// CellSizeArcMin returns the cell size in arc minutes, rounded to one
// decimal place.
func (d GridDescriptor) CellSizeArcMin() float64 {
	return roundTo(d.CellSize*60, 1)
}

// delta is the cell size in degrees regenerated from the rounded
// arc minute value.
func (d GridDescriptor) delta() float64 { return d.CellSizeArcMin() / 60 }

// Bounds returns the extent of the grid.
func (d GridDescriptor) Bounds() *geom.Bounds {
	dd := d.delta()
	return &geom.Bounds{
		Min: geom.Point{X: d.XUL, Y: d.YUL - float64(d.Rows)*dd},
		Max: geom.Point{X: d.XUL + float64(d.Cols)*dd, Y: d.YUL},
	}
}

// Header returns a raster header matching d, for writing rasters on this
// grid.
func (d GridDescriptor) Header() raster.Header {
	dd := d.delta()
	return raster.Header{
		Rows:     d.Rows,
		Cols:     d.Cols,
		CellSize: dd,
		XLL:      d.XUL,
		YLL:      d.YUL - float64(d.Rows)*dd,
	}
}

func (d GridDescriptor) String() string {
	return fmt.Sprintf("%dx%d cells of %g arc minutes from (%g, %g)", d.Rows, d.Cols,
		d.CellSizeArcMin(), d.XUL, d.YUL)
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

// FromGridDescriptor creates a GridDescriptor from the header of a
// grid-definition ("clone") raster. The upper-left corner is rounded to
// two decimal places.
func FromGridDescriptor(h raster.Header) (GridDescriptor, error) {
	d := GridDescriptor{
		Rows:     h.Rows,
		Cols:     h.Cols,
		CellSize: h.CellSize,
		XUL:      roundTo(h.XUL(), 2),
		YUL:      roundTo(h.YUL(), 2),
	}
	return d, d.Validate()
}

// FromDictionaryDescriptor creates a GridDescriptor from a map with the keys
// "rows", "cols", "cellsize", "xUL" and "yUL". Keys are matched without
// regard to case. Values may be numbers or strings.
func FromDictionaryDescriptor(m map[string]interface{}) (GridDescriptor, error) {
	var d GridDescriptor
	get := func(key string) (interface{}, error) {
		if v, ok := m[key]; ok {
			return v, nil
		}
		for k, v := range m {
			if strings.EqualFold(k, key) {
				return v, nil
			}
		}
		return nil, fmt.Errorf("metregrid: grid descriptor is missing %q", key)
	}
	v, err := get("rows")
	if err != nil {
		return d, err
	}
	if d.Rows, err = cast.ToIntE(v); err != nil {
		return d, fmt.Errorf("metregrid: grid descriptor rows: %v", err)
	}
	if v, err = get("cols"); err != nil {
		return d, err
	}
	if d.Cols, err = cast.ToIntE(v); err != nil {
		return d, fmt.Errorf("metregrid: grid descriptor cols: %v", err)
	}
	for key, dst := range map[string]*float64{"cellsize": &d.CellSize, "xUL": &d.XUL, "yUL": &d.YUL} {
		if v, err = get(key); err != nil {
			return d, err
		}
		if *dst, err = cast.ToFloat64E(v); err != nil {
			return d, fmt.Errorf("metregrid: grid descriptor %s: %v", key, err)
		}
	}
	return d, d.Validate()
}

// DeriveAxes returns the cell-center longitudes (increasing) and latitudes
// (decreasing) of d, along with its cell size in arc minutes.
// The axes are built from the rounded arc minute cell size so they are
// reproducible for a given descriptor.
func DeriveAxes(d GridDescriptor) (lon, lat []float64, cellSizeArcMin float64, err error) {
	if err = d.Validate(); err != nil {
		return nil, nil, 0, err
	}
	dd := d.delta()
	lon = make([]float64, d.Cols)
	for i := range lon {
		lon[i] = d.XUL + dd/2 + float64(i)*dd
	}
	lat = make([]float64, d.Rows)
	for i := range lat {
		lat[i] = d.YUL - dd/2 - float64(i)*dd
	}
	return lon, lat, d.CellSizeArcMin(), nil
}

// blockSize returns the number of fine cells along each edge of one target
// cell.
func blockSize(fine, target GridDescriptor) (int, error) {
	fa, ta := fine.CellSizeArcMin(), target.CellSizeArcMin()
	ratio := ta / fa
	n := math.Round(ratio)
	if n < 1 {
		return 0, &IncompatibleResolutionError{FineArcMin: fa, TargetArcMin: ta,
			Reason: "the target resolution is finer than the input resolution"}
	}
	if math.Abs(ratio-n) > 1e-9 {
		return 0, &IncompatibleResolutionError{FineArcMin: fa, TargetArcMin: ta,
			Reason: fmt.Sprintf("the resolution ratio %g is not an integer", ratio)}
	}
	return int(n), nil
}

// DeriveTarget returns the grid with the given cell size (in arc minutes)
// that shares the upper-left corner of fine and covers its whole extent.
func DeriveTarget(fine GridDescriptor, targetArcMin float64) (GridDescriptor, error) {
	if err := fine.Validate(); err != nil {
		return GridDescriptor{}, err
	}
	target := GridDescriptor{
		Rows:     1,
		Cols:     1,
		CellSize: targetArcMin / 60,
		XUL:      fine.XUL,
		YUL:      fine.YUL,
	}
	if err := target.Validate(); err != nil {
		return GridDescriptor{}, err
	}
	n, err := blockSize(fine, target)
	if err != nil {
		return GridDescriptor{}, err
	}
	target.Rows = (fine.Rows + n - 1) / n
	target.Cols = (fine.Cols + n - 1) / n
	return target, nil
}
