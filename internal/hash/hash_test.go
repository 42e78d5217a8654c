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

package hash

import (
	"math"
	"testing"
)

func TestHash(t *testing.T) {
	type axes struct {
		Lon, Lat []float64
	}
	a := axes{Lon: []float64{1, 2}, Lat: []float64{3}}
	b := axes{Lon: []float64{1, 2}, Lat: []float64{3}}
	c := axes{Lon: []float64{1, 2.0000001}, Lat: []float64{3}}
	if Hash(a) != Hash(b) {
		t.Error("equal values have different hashes")
	}
	if Hash(a) == Hash(c) {
		t.Error("different values have the same hash")
	}
	d := axes{Lon: []float64{math.NaN()}}
	if Hash(d) != Hash(d) {
		t.Error("hash is not deterministic")
	}
}
