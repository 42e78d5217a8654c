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

package metregridutil

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ctessum/sparse"
	"github.com/spatialmodel/metregrid"
	"github.com/spatialmodel/metregrid/cloud"
	"github.com/spatialmodel/metregrid/raster"
	"github.com/spatialmodel/metregrid/tsfile"
)

var fine = metregrid.GridDescriptor{Rows: 4, Cols: 4, CellSize: 2.5 / 60, XUL: 5, YUL: 52}

func tempDir(t *testing.T) string {
	dir, err := ioutil.TempDir("", "metregridutil")
	if err != nil {
		t.Fatal(err)
	}
	return dir
}

func day(i int) time.Time {
	return time.Date(1990, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
}

// writeTestInputs writes a clone file and one precipitation raster per
// day, and returns the clone path and the input template.
func writeTestInputs(t *testing.T, dir string, days int) (clone, template string) {
	clone = filepath.Join(dir, "clone.asc")
	if err := raster.Write(clone, sparse.ZerosDense(4, 4), fine.Header(), metregrid.MissingValue); err != nil {
		t.Fatal(err)
	}
	template = filepath.Join(dir, "[VAR]_[DATE].asc")
	for i := 0; i < days; i++ {
		f := sparse.ZerosDense(4, 4)
		for k := range f.Elements {
			f.Elements[k] = float64(i + 1)
		}
		path := strings.Replace(strings.Replace(template, "[VAR]", "pr", -1), "[DATE]", day(i).Format("20060102"), -1)
		if err := raster.Write(path, f, fine.Header(), metregrid.MissingValue); err != nil {
			t.Fatal(err)
		}
	}
	return clone, template
}

func TestVersion(t *testing.T) {
	cfg := InitializeConfig()
	buf := new(bytes.Buffer)
	cfg.Root.SetOutput(buf)
	cfg.Root.SetArgs([]string{"version"})
	if err := cfg.Root.Execute(); err != nil {
		t.Fatal(err)
	}
	if want := "metregrid v" + metregrid.Version; !strings.Contains(buf.String(), want) {
		t.Errorf("%q does not contain %q", buf.String(), want)
	}
}

func TestResampleCmd(t *testing.T) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)
	if err := os.Mkdir("testbucket", 0755); err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll("testbucket")
	clone, template := writeTestInputs(t, dir, 3)

	cfg := InitializeConfig()
	cfg.Set("fine_grid", clone)
	cfg.Set("input", template)
	cfg.Set("input_type", "template")
	cfg.Set("read_retries", 0)
	cfg.Set("output_dir", filepath.Join(dir, "out"))
	cfg.Set("start_date", "1990-01-01")
	cfg.Set("end_date", "1990-01-04")
	cfg.Set("log_level", "error")
	cfg.Set("upload", "file://testbucket/out")
	cfg.Root.SetArgs([]string{"resample"})
	if err := cfg.Root.Execute(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "out", "precipitation", "precipitation_efas_rhine-meuse.nc")
	f, err := tsfile.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if n := f.NumRecords(); n != 4 {
		t.Fatalf("records: %d != 4", n)
	}
	for i := 0; i < 4; i++ {
		s, err := f.Slice("precipitation", i)
		if err != nil {
			t.Fatal(err)
		}
		want := []float64{float64(i + 1), float64(i + 1), float64(i + 1), float64(i + 1)}
		if i == 3 { // No input for the last day.
			want = []float64{tsfile.FillValue, tsfile.FillValue, tsfile.FillValue, tsfile.FillValue}
		}
		if !reflect.DeepEqual(s.Elements, want) {
			t.Errorf("day %d: %v != %v", i, s.Elements, want)
		}
	}
	if g := f.Geometry(); g.CellSizeArcMin != 5 || len(g.Lon) != 2 {
		t.Errorf("geometry %+v", g)
	}

	down, err := cloud.Download(context.Background(), "file://testbucket/out/precipitation/precipitation_efas_rhine-meuse.nc", dir)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := ioutil.ReadFile(path)
	got, _ := ioutil.ReadFile(down)
	if !bytes.Equal(got, want) {
		t.Error("uploaded file differs from the output")
	}
}

func TestResampleCmdNetCDF(t *testing.T) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)
	clone, _ := writeTestInputs(t, dir, 0)

	lon, lat, arcMin, err := metregrid.DeriveAxes(fine)
	if err != nil {
		t.Fatal(err)
	}
	g := tsfile.Geometry{Lon: lon, Lat: lat, CellSizeArcMin: arcMin}
	table := metregrid.DefaultVariables()
	template := filepath.Join(dir, "in", "[NAME]", "[NAME]_efas_rhine-meuse.nc")
	w := tsfile.NewWriter(tsfile.NewCache(0), nil)
	for code, base := range map[string]float64{"tx": 10, "tn": 0} {
		v := table[code]
		path := metregrid.ExpandName(template, table, code)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := w.Create(path, g, []tsfile.Variable{{Name: v.ShortName, Units: v.Unit}}, nil); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 3; i++ {
			f := sparse.ZerosDense(4, 4)
			for k := range f.Elements {
				f.Elements[k] = base + float64(i)
			}
			if _, err := w.AppendSlice(path, v.ShortName, day(i), f); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := w.CloseAll(); err != nil {
		t.Fatal(err)
	}

	cfg := InitializeConfig()
	cfg.Set("variable", "ta")
	cfg.Set("fine_grid", clone)
	cfg.Set("input", template)
	cfg.Set("input_type", "netcdf")
	cfg.Set("read_retries", 0)
	cfg.Set("output_dir", filepath.Join(dir, "out"))
	cfg.Set("start_date", "1990-01-01")
	cfg.Set("end_date", "1990-01-03")
	cfg.Set("log_level", "error")
	cfg.Root.SetArgs([]string{"resample"})
	if err := cfg.Root.Execute(); err != nil {
		t.Fatal(err)
	}

	f, err := tsfile.Open(filepath.Join(dir, "out", "temperature", "temperature_efas_rhine-meuse.nc"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if n := f.NumRecords(); n != 3 {
		t.Fatalf("records: %d != 3", n)
	}
	for i := 0; i < 3; i++ {
		s, err := f.Slice("temperature", i)
		if err != nil {
			t.Fatal(err)
		}
		x := float64(5 + i)
		if want := []float64{x, x, x, x}; !reflect.DeepEqual(s.Elements, want) {
			t.Errorf("day %d: %v != %v", i, s.Elements, want)
		}
	}
}

func TestResampleCmdIncompatible(t *testing.T) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)
	clone, template := writeTestInputs(t, dir, 1)

	cfg := InitializeConfig()
	cfg.Set("fine_grid", clone)
	cfg.Set("input", template)
	cfg.Set("input_type", "template")
	cfg.Set("output_dir", filepath.Join(dir, "out"))
	cfg.Set("output_resolution", 4.0)
	cfg.Root.SetArgs([]string{"resample"})
	err := cfg.Root.Execute()
	if _, ok := err.(*metregrid.IncompatibleResolutionError); !ok {
		t.Fatalf("got error %v; want *IncompatibleResolutionError", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "out")); !os.IsNotExist(err) {
		t.Errorf("output should not have been created: %v", err)
	}
}

func TestCorrectCmd(t *testing.T) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "precipitation.nc")
	w := tsfile.NewWriter(tsfile.NewCache(0), nil)
	g := tsfile.Geometry{Lon: []float64{5.05}, Lat: []float64{51.95}, CellSizeArcMin: 6}
	if err := w.Create(path, g, []tsfile.Variable{{Name: "precipitation", Units: "m.day-1"}},
		map[string]string{"institution": "unknown"}); err != nil {
		t.Fatal(err)
	}
	if err := w.CloseAll(); err != nil {
		t.Fatal(err)
	}

	cfg := InitializeConfig()
	cfg.Set("attribute", `{"institution": "Deltares", "precipitation:units": "mm.day-1"}`)
	cfg.Set("log_level", "error")
	cfg.Root.SetArgs([]string{"correct", filepath.Join(dir, "*.nc")})
	if err := cfg.Root.Execute(); err != nil {
		t.Fatal(err)
	}

	f, err := tsfile.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	attrs := f.Attributes()
	if attrs["institution"] != "Deltares" || attrs["precipitation:units"] != "mm.day-1" {
		t.Errorf("attributes %v", attrs)
	}

	cfg = InitializeConfig()
	cfg.Set("attribute", map[string]string{"institution": "x"})
	cfg.Root.SetArgs([]string{"correct", filepath.Join(dir, "*.asc")})
	if err := cfg.Root.Execute(); err == nil {
		t.Error("expected an error when no files match")
	}
}

func TestInfoCmd(t *testing.T) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "precipitation.nc")
	w := tsfile.NewWriter(tsfile.NewCache(0), nil)
	g := tsfile.Geometry{Lon: []float64{5.05, 5.15}, Lat: []float64{51.95}, CellSizeArcMin: 6}
	if err := w.Create(path, g, []tsfile.Variable{{Name: "precipitation"}}, nil); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, err := w.AppendSlice(path, "precipitation", day(i), sparse.ZerosDense(1, 2)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.CloseAll(); err != nil {
		t.Fatal(err)
	}

	cfg := InitializeConfig()
	buf := new(bytes.Buffer)
	cfg.Root.SetOutput(buf)
	cfg.Root.SetArgs([]string{"info", path})
	if err := cfg.Root.Execute(); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"grid: 1 rows x 2 cols, 6.0 arc minutes",
		"variables: [precipitation]",
		"time: 2 steps, 1990-01-01 to 1990-01-02",
		"cell_size_arc_minutes = 6",
	} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("output does not contain %q:\n%s", want, buf.String())
		}
	}
}

func TestGetStringMapString(t *testing.T) {
	cfg := InitializeConfig()
	want := map[string]string{"a": "1", "b": "x"}
	for name, val := range map[string]interface{}{
		"json":      `{"a": "1", "b": "x"}`,
		"map":       map[string]string{"a": "1", "b": "x"},
		"interface": map[string]interface{}{"a": 1, "b": "x"},
	} {
		t.Run(name, func(t *testing.T) {
			cfg.Set("attribute", val)
			got, err := getStringMapString("attribute", cfg.Viper)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("%v != %v", got, want)
			}
		})
	}
	cfg.Set("attribute", "{")
	if _, err := getStringMapString("attribute", cfg.Viper); err == nil {
		t.Error("expected an error for invalid json")
	}
}

func TestAtResolution(t *testing.T) {
	coarse := metregrid.GridDescriptor{Rows: 2, Cols: 3, CellSize: 5.0 / 60, XUL: 5, YUL: 52}
	g, err := atResolution(coarse, 2.5)
	if err != nil {
		t.Fatal(err)
	}
	if g.Rows != 4 || g.Cols != 6 || g.CellSizeArcMin() != 2.5 || g.XUL != 5 || g.YUL != 52 {
		t.Errorf("%+v", g)
	}
	if g, _ := atResolution(coarse, 0); g != coarse {
		t.Errorf("%+v != %+v", g, coarse)
	}
}

func TestTargetGrid(t *testing.T) {
	cfg := InitializeConfig()
	cfg.Set("target_grid", map[string]interface{}{
		"rows": 2, "cols": "3", "cellsize": 5.0 / 60, "xUL": 5, "yUL": 52,
	})
	g, err := cfg.targetGrid(fine)
	if err != nil {
		t.Fatal(err)
	}
	if g.Rows != 2 || g.Cols != 3 || g.CellSizeArcMin() != 5 {
		t.Errorf("%+v", g)
	}

	cfg = InitializeConfig()
	g, err = cfg.targetGrid(fine)
	if err != nil {
		t.Fatal(err)
	}
	if g.Rows != 2 || g.Cols != 2 || g.CellSizeArcMin() != 5 {
		t.Errorf("%+v", g)
	}
}

func TestEnvironmentConfig(t *testing.T) {
	os.Setenv("METREGRID_VARIABLE", "ta")
	defer os.Unsetenv("METREGRID_VARIABLE")
	cfg := InitializeConfig()
	v, err := cfg.variable()
	if err != nil {
		t.Fatal(err)
	}
	if v.ShortName != "temperature" {
		t.Errorf("short name %q", v.ShortName)
	}
}

func TestInvalidInputType(t *testing.T) {
	cfg := InitializeConfig()
	cfg.Set("input", "in.nc")
	cfg.Set("input_type", "grib")
	v, _ := metregrid.DefaultVariables().Lookup("pr")
	if _, _, err := cfg.source(context.Background(), v, ""); err == nil {
		t.Error("expected an error for an invalid input type")
	}
}
