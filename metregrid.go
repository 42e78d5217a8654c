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

// Package metregrid resamples gridded daily meteorological time series
// onto coarser regular latitude/longitude grids using area-weighted block
// aggregation, and writes the results as netCDF time series.
package metregrid

// Version gives the version number.
const Version = "1.0.0"

// MissingValue is the sentinel marking cells without data. It is compared
// by exact match and is written as the _FillValue of output variables.
const MissingValue = 1e20
