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
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/ctessum/sparse"
	"github.com/spatialmodel/metregrid/raster"
	"github.com/spatialmodel/metregrid/tsfile"
)

func day(i int) time.Time {
	return time.Date(1990, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
}

func testDir(t *testing.T) string {
	dir, err := ioutil.TempDir("", "metregrid")
	if err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestTemplateSource(t *testing.T) {
	dir := testDir(t)
	defer os.RemoveAll(dir)

	g := grid(2, 2, 2.5)
	in := field(2, 2, 1.5, MissingValue, -3, 7)
	if err := raster.Write(filepath.Join(dir, "pr_19900102.asc"), in, g.Header(), MissingValue); err != nil {
		t.Fatal(err)
	}
	s := &TemplateSource{Template: filepath.Join(dir, "[VAR]_[DATE].asc")}
	if p := s.Path("pr", day(1)); p != filepath.Join(dir, "pr_19900102.asc") {
		t.Errorf("path %s", p)
	}
	out, err := s.Read(context.Background(), "pr", day(1))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out.Elements, in.Elements) {
		t.Errorf("%v != %v", out.Elements, in.Elements)
	}

	_, err = s.Read(context.Background(), "pr", day(2))
	merr, ok := err.(*MissingInputError)
	if !ok {
		t.Fatalf("got error %v; want *MissingInputError", err)
	}
	if !merr.Date.Equal(day(2)) || merr.Path != filepath.Join(dir, "pr_19900103.asc") {
		t.Errorf("%+v", merr)
	}
	if merr.Unwrap() == nil {
		t.Error("MissingInputError should wrap the read error")
	}
}

func TestTemplateSourceRetry(t *testing.T) {
	dir := testDir(t)
	defer os.RemoveAll(dir)
	s := &TemplateSource{Template: filepath.Join(dir, "[VAR]_[DATE].asc"), Retries: 1}
	start := time.Now()
	_, err := s.Read(context.Background(), "pr", day(0))
	if _, ok := err.(*MissingInputError); !ok {
		t.Fatalf("got error %v; want *MissingInputError", err)
	}
	if time.Since(start) > time.Minute {
		t.Error("retrying took too long")
	}
}

// TestNetCDFSource reads a file written by package tsfile with an
// independent netCDF reader.
// writeNetCDF writes fields as daily records of variable name to path.
func writeNetCDF(t *testing.T, path, name string, fields []*sparse.DenseArray) {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		t.Fatal(err)
	}
	w := tsfile.NewWriter(tsfile.NewCache(0), nil)
	g := tsfile.Geometry{Lon: []float64{5.1, 5.2, 5.3}, Lat: []float64{51.9, 51.8}, CellSizeArcMin: 6}
	if err := w.Create(path, g, []tsfile.Variable{{Name: name, Units: "m.day-1"}}, nil); err != nil {
		t.Fatal(err)
	}
	for i, f := range fields {
		if _, err := w.AppendSlice(path, name, day(i), f); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.CloseAll(); err != nil {
		t.Fatal(err)
	}
}

func TestExpandName(t *testing.T) {
	table := DefaultVariables()
	for _, test := range []struct {
		template, code, want string
	}{
		{template: "in/[NAME]/[NAME]_efas.nc", code: "tx", want: "in/maximum_temperature/maximum_temperature_efas.nc"},
		{template: "in/[VAR]_[NAME].nc", code: "pr", want: "in/pr_precipitation.nc"},
		{template: "in/[NAME].nc", code: "xx", want: "in/xx.nc"},
	} {
		if have := ExpandName(test.template, table, test.code); have != test.want {
			t.Errorf("%s, %s: have %s, want %s", test.template, test.code, have, test.want)
		}
	}
}

func TestNetCDFSource(t *testing.T) {
	dir := testDir(t)
	defer os.RemoveAll(dir)

	fields := []*sparse.DenseArray{
		field(2, 3, 0, 0.5, 1, 1.5, 2, 2.5),
		field(2, 3, 3, MissingValue, 4, 4.25, -1, 0.125),
		field(2, 3, 6, 7, 8, 9, 10, 11),
	}
	writeNetCDF(t, filepath.Join(dir, "precipitation", "precipitation_efas.nc"), "precipitation", fields)

	check := func(t *testing.T, s *NetCDFSource, order []int) {
		for _, i := range order {
			out, err := s.Read(context.Background(), "pr", day(i))
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(out.Shape, []int{2, 3}) {
				t.Errorf("shape %v", out.Shape)
			}
			if !reflect.DeepEqual(out.Elements, fields[i].Elements) {
				t.Errorf("day %d: %v != %v", i, out.Elements, fields[i].Elements)
			}
		}
	}

	t.Run("later record first", func(t *testing.T) {
		s := &NetCDFSource{
			Template: filepath.Join(dir, "[NAME]", "[NAME]_efas.nc"),
			Table:    DefaultVariables(),
		}
		defer s.Close()
		if p := s.Path("pr"); p != filepath.Join(dir, "precipitation", "precipitation_efas.nc") {
			t.Errorf("path %s", p)
		}
		check(t, s, []int{2, 1, 0, 1})
	})

	t.Run("missing", func(t *testing.T) {
		s := &NetCDFSource{
			Template: filepath.Join(dir, "[NAME]", "[NAME]_efas.nc"),
			Table:    DefaultVariables(),
		}
		defer s.Close()
		_, err := s.Read(context.Background(), "pr", day(5))
		if _, ok := err.(*MissingInputError); !ok {
			t.Errorf("got error %v; want *MissingInputError", err)
		}
		_, err = s.Read(context.Background(), "tx", day(0))
		if _, ok := err.(*MissingInputError); !ok {
			t.Errorf("got error %v; want *MissingInputError", err)
		}
	})

	t.Run("variable names", func(t *testing.T) {
		writeNetCDF(t, filepath.Join(dir, "pr.nc"), "rr", fields)
		s := &NetCDFSource{
			Template:  filepath.Join(dir, "[VAR].nc"),
			Table:     DefaultVariables(),
			Variables: map[string]string{"pr": "rr"},
		}
		defer s.Close()
		check(t, s, []int{1, 2})
	})
}
