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
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/ctessum/sparse"
	"github.com/kr/pretty"
)

func testGeometry() Geometry {
	return Geometry{
		Lon:            []float64{5.025, 5.075, 5.125},
		Lat:            []float64{51.975, 51.925},
		CellSizeArcMin: 3,
	}
}

func testField(offset float64) *sparse.DenseArray {
	f := sparse.ZerosDense(2, 3)
	for i := range f.Elements {
		f.Elements[i] = offset + float64(i)*0.5
	}
	return f
}

func tempDir(t *testing.T) string {
	dir, err := ioutil.TempDir("", "tsfile")
	if err != nil {
		t.Fatal(err)
	}
	return dir
}

func date(i int) time.Time {
	return time.Date(1990, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
}

var precip = Variable{Name: "precipitation", LongName: "daily_precipitation", Units: "m.day-1"}

func TestAppendOrdering(t *testing.T) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "precipitation.nc")

	w := NewWriter(NewCache(DefaultMaxOpen), nil)
	if err := w.Create(path, testGeometry(), []Variable{precip}, map[string]string{"title": "test"}); err != nil {
		t.Fatal(err)
	}
	const n = 5
	for i := 0; i < n; i++ {
		idx, err := w.AppendSlice(path, "precipitation", date(i), testField(float64(i)))
		if err != nil {
			t.Fatal(err)
		}
		if idx != i {
			t.Errorf("append %d used index %d", i, idx)
		}
	}
	if err := w.Close(path); err != nil {
		t.Fatal(err)
	}
	if w.Cache().Len() != 0 {
		t.Errorf("cache has %d open files after close", w.Cache().Len())
	}

	check := func(nrec int) {
		f, err := Open(path)
		if err != nil {
			t.Fatal(err)
		}
		defer f.Close()
		if f.NumRecords() != nrec {
			t.Fatalf("time axis has %d records; want %d", f.NumRecords(), nrec)
		}
		times, err := f.Times()
		if err != nil {
			t.Fatal(err)
		}
		for i, tt := range times {
			if !tt.Equal(date(i)) {
				t.Errorf("time %d: %v != %v", i, tt, date(i))
			}
		}
		for i := 0; i < nrec; i++ {
			s, err := f.Slice("precipitation", i)
			if err != nil {
				t.Fatal(err)
			}
			if want := testField(float64(i)); !reflect.DeepEqual(s.Elements, want.Elements) {
				t.Errorf("slice %d: %v", i, pretty.Diff(s.Elements, want.Elements))
			}
		}
		g := f.Geometry()
		if !reflect.DeepEqual(g, testGeometry()) {
			t.Errorf("geometry: %v", pretty.Diff(g, testGeometry()))
		}
	}
	check(n)

	// Reopen and append one more step.
	idx, err := w.AppendSlice(path, "precipitation", date(n), testField(float64(n)))
	if err != nil {
		t.Fatal(err)
	}
	if idx != n {
		t.Errorf("appended at index %d; want %d", idx, n)
	}
	if err := w.CloseAll(); err != nil {
		t.Fatal(err)
	}
	check(n + 1)
}

func TestCreateConflict(t *testing.T) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "out.nc")

	w := NewWriter(NewCache(0), nil)
	defer w.CloseAll()
	g := testGeometry()
	if err := w.Create(path, g, []Variable{precip}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := w.AppendSlice(path, "precipitation", date(0), testField(1)); err != nil {
		t.Fatal(err)
	}

	// Same geometry: no-op.
	if err := w.Create(path, testGeometry(), []Variable{precip}, nil); err != nil {
		t.Errorf("recreating with the same geometry: %v", err)
	}

	g2 := testGeometry()
	g2.Lat = []float64{52.025, 51.975}
	err := w.Create(path, g2, []Variable{precip}, nil)
	if _, ok := err.(*FileExistsConflictError); !ok {
		t.Fatalf("got error %v (%T); want *FileExistsConflictError", err, err)
	}

	n, err := w.NumRecords(path)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("file has %d records after conflicting create; want 1", n)
	}
}

func TestAppendMultiple(t *testing.T) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "temperature.nc")

	w := NewWriter(NewCache(0), nil)
	vars := []Variable{
		{Name: "minimum_temperature", Units: "degrees Celcius"},
		{Name: "maximum_temperature", Units: "degrees Celcius"},
	}
	if err := w.Create(path, testGeometry(), vars, nil); err != nil {
		t.Fatal(err)
	}
	idx, err := w.AppendMultiple(path, map[string]*sparse.DenseArray{
		"minimum_temperature": testField(-2),
		"maximum_temperature": testField(8),
	}, date(0))
	if err != nil {
		t.Fatal(err)
	}
	if idx != 0 {
		t.Errorf("index %d; want 0", idx)
	}
	// A single-variable append fills the other variable.
	if _, err := w.AppendSlice(path, "maximum_temperature", date(1), testField(9)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(path); err != nil {
		t.Fatal(err)
	}

	f, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if !reflect.DeepEqual(f.Variables(), []string{"minimum_temperature", "maximum_temperature"}) {
		t.Errorf("variables: %v", f.Variables())
	}
	s, err := f.Slice("minimum_temperature", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(s.Elements, testField(-2).Elements) {
		t.Errorf("minimum_temperature[0]: %v", pretty.Diff(s.Elements, testField(-2).Elements))
	}
	s, err = f.Slice("minimum_temperature", 1)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range s.Elements {
		if v != FillValue {
			t.Errorf("minimum_temperature[1][%d] = %g; want fill value", i, v)
		}
	}
}

func TestIndexHint(t *testing.T) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "out.nc")

	w := NewWriter(NewCache(0), nil)
	defer w.CloseAll()
	if err := w.Create(path, testGeometry(), []Variable{precip}, nil); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := w.AppendSlice(path, "precipitation", date(i), testField(float64(i)), i); err != nil {
			t.Fatal(err)
		}
	}
	// Overwrite an existing index.
	idx, err := w.AppendSlice(path, "precipitation", date(1), testField(100), 1)
	if err != nil {
		t.Fatal(err)
	}
	if idx != 1 {
		t.Errorf("index %d; want 1", idx)
	}
	if _, err := w.AppendSlice(path, "precipitation", date(5), testField(5), 5); err == nil {
		t.Error("writing past the end of the time axis should fail")
	}
	if err := w.Close(path); err != nil {
		t.Fatal(err)
	}

	f, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if f.NumRecords() != 3 {
		t.Errorf("%d records; want 3", f.NumRecords())
	}
	for i, want := range []float64{0, 100, 2} {
		s, err := f.Slice("precipitation", i)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(s.Elements, testField(want).Elements) {
			t.Errorf("slice %d: %v", i, pretty.Diff(s.Elements, testField(want).Elements))
		}
	}
}

func TestAppendErrors(t *testing.T) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "out.nc")

	w := NewWriter(NewCache(0), nil)
	defer w.CloseAll()
	if _, err := w.AppendSlice(path, "precipitation", date(0), testField(0)); err == nil {
		t.Error("appending to a missing file should fail")
	}
	if err := w.Create(path, testGeometry(), []Variable{precip}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := w.AppendSlice(path, "temperature", date(0), testField(0)); err == nil {
		t.Error("appending an undefined variable should fail")
	}
	if _, err := w.AppendSlice(path, "lat", date(0), testField(0)); err == nil {
		t.Error("appending to an axis should fail")
	}
	if _, err := w.AppendSlice(path, "precipitation", date(0), sparse.ZerosDense(3, 2)); err == nil {
		t.Error("appending a field of the wrong shape should fail")
	}
	n, err := w.NumRecords(path)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("failed appends added %d records", n)
	}
}

func TestAppendFlushError(t *testing.T) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "out.nc")

	c := NewCache(0)
	w := NewWriter(c, nil)
	if err := w.Create(path, testGeometry(), []Variable{precip}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := w.AppendSlice(path, "precipitation", date(0), testField(0)); err != nil {
		t.Fatal(err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		t.Fatal(err)
	}
	h, ok := c.get(abs)
	if !ok {
		t.Fatal("file is not cached")
	}
	h.f.Close() // Make every further write fail.

	_, err = w.AppendSlice(path, "precipitation", date(1), testField(1))
	ferr, ok := err.(*IOFlushError)
	if !ok {
		t.Fatalf("got error %v (%T); want *IOFlushError", err, err)
	}
	if ferr.Index != 1 {
		t.Errorf("error index %d; want 1", ferr.Index)
	}
	w.Close(path) // The handle is already closed, so ignore the error.

	f, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if f.NumRecords() != 1 {
		t.Errorf("%d records after failed append; want 1", f.NumRecords())
	}
}

func TestCloseNotOpen(t *testing.T) {
	w := NewWriter(NewCache(0), nil)
	if err := w.Close("does_not_exist.nc"); err != nil {
		t.Errorf("closing a file that is not open: %v", err)
	}
	if err := w.CloseAll(); err != nil {
		t.Error(err)
	}
}

func TestCacheEviction(t *testing.T) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)

	c := NewCache(2)
	w := NewWriter(c, nil)
	var paths []string
	for i := 0; i < 3; i++ {
		p := filepath.Join(dir, string(rune('a'+i))+".nc")
		paths = append(paths, p)
		if err := w.Create(p, testGeometry(), []Variable{precip}, nil); err != nil {
			t.Fatal(err)
		}
	}
	if c.Len() != 2 {
		t.Errorf("cache holds %d files; want 2", c.Len())
	}
	// The evicted file is reopened on demand.
	if _, err := w.AppendSlice(paths[0], "precipitation", date(0), testField(0)); err != nil {
		t.Fatal(err)
	}
	want := []string{mustAbs(t, paths[0]), mustAbs(t, paths[2])}
	if got := c.Paths(); !reflect.DeepEqual(got, want) {
		t.Errorf("open files: %v", pretty.Diff(got, want))
	}
	if err := w.CloseAll(); err != nil {
		t.Fatal(err)
	}
	if c.Len() != 0 {
		t.Errorf("cache holds %d files after CloseAll", c.Len())
	}
}

func mustAbs(t *testing.T, p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		t.Fatal(err)
	}
	return abs
}

func TestCreateEvictionCloseError(t *testing.T) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)
	a, b := filepath.Join(dir, "a.nc"), filepath.Join(dir, "b.nc")

	c := NewCache(1)
	w := NewWriter(c, nil)
	if err := w.Create(a, testGeometry(), []Variable{precip}, nil); err != nil {
		t.Fatal(err)
	}
	h, ok := c.get(mustAbs(t, a))
	if !ok {
		t.Fatal("file is not cached")
	}
	h.f.Close() // Make closing the evicted file fail.

	if err := w.Create(b, testGeometry(), []Variable{precip}, nil); err != nil {
		t.Fatalf("creating a file after a failed eviction: %v", err)
	}
	if got, want := c.Paths(), []string{mustAbs(t, b)}; !reflect.DeepEqual(got, want) {
		t.Errorf("open files: %v", pretty.Diff(got, want))
	}
	if _, err := w.AppendSlice(b, "precipitation", date(0), testField(0)); err != nil {
		t.Fatal(err)
	}
	if err := w.CloseAll(); err != nil {
		t.Fatal(err)
	}
}
