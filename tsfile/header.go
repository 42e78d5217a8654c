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
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ctessum/cdf"
	"github.com/spatialmodel/metregrid/internal/hash"
	"github.com/spf13/cast"
)

// FillValue is the _FillValue of data variables. Cells holding it have no
// data.
const FillValue = 1e20

// Geometry holds the spatial axes of a file.
type Geometry struct {
	// Lon holds the cell-center longitudes, west to east.
	Lon []float64

	// Lat holds the cell-center latitudes, north to south.
	Lat []float64

	CellSizeArcMin float64
}

// fingerprint identifies the axis values of g.
func (g Geometry) fingerprint() string { return hash.Hash(g) }

// Variable describes a data variable with dimensions (time, lat, lon).
type Variable struct {
	Name         string
	StandardName string
	LongName     string
	Units        string
}

// reserved variable names.
var axisNames = map[string]bool{"time": true, "lat": true, "lon": true}

// newHeader returns the defined header of a file with geometry g and
// data variables vars.
func newHeader(g Geometry, vars []Variable, globalAttrs map[string]string, tu TimeUnits) (*cdf.Header, error) {
	if len(g.Lon) == 0 || len(g.Lat) == 0 {
		return nil, fmt.Errorf("tsfile: geometry has %d longitudes and %d latitudes", len(g.Lon), len(g.Lat))
	}
	if len(vars) == 0 {
		return nil, fmt.Errorf("tsfile: no data variables")
	}
	h := cdf.NewHeader([]string{"time", "lat", "lon"}, []int{0, len(g.Lat), len(g.Lon)})

	h.AddVariable("time", []string{"time"}, []float64{0})
	h.AddAttribute("time", "standard_name", "time")
	h.AddAttribute("time", "long_name", "time")
	h.AddAttribute("time", "units", tu.String())
	h.AddAttribute("time", "calendar", "standard")

	h.AddVariable("lat", []string{"lat"}, []float64{0})
	h.AddAttribute("lat", "long_name", "latitude")
	h.AddAttribute("lat", "standard_name", "latitude")
	h.AddAttribute("lat", "units", "degrees_north")

	h.AddVariable("lon", []string{"lon"}, []float64{0})
	h.AddAttribute("lon", "long_name", "longitude")
	h.AddAttribute("lon", "standard_name", "longitude")
	h.AddAttribute("lon", "units", "degrees_east")

	seen := make(map[string]bool)
	for _, v := range vars {
		if seen[v.Name] {
			return nil, fmt.Errorf("tsfile: variable %q is defined twice", v.Name)
		}
		seen[v.Name] = true
		if err := addDataVariable(h, v); err != nil {
			return nil, err
		}
	}

	if g.CellSizeArcMin > 0 {
		h.AddAttribute("", "cell_size_arc_minutes", []float64{g.CellSizeArcMin})
	}
	for _, k := range sortedKeys(globalAttrs) {
		if globalAttrs[k] != "" {
			h.AddAttribute("", k, globalAttrs[k])
		}
	}
	h.Define()
	if errs := h.Check(); len(errs) > 0 {
		return nil, fmt.Errorf("tsfile: invalid header: %v", errs[0])
	}
	return h, nil
}

func addDataVariable(h *cdf.Header, v Variable) error {
	if v.Name == "" || axisNames[v.Name] {
		return fmt.Errorf("tsfile: invalid data variable name %q", v.Name)
	}
	standardName := v.StandardName
	if standardName == "" {
		standardName = v.Name
	}
	h.AddVariable(v.Name, []string{"time", "lat", "lon"}, []float32{0})
	h.AddAttribute(v.Name, "standard_name", standardName)
	if v.LongName != "" {
		h.AddAttribute(v.Name, "long_name", v.LongName)
	}
	if v.Units != "" {
		h.AddAttribute(v.Name, "units", v.Units)
	}
	h.AddAttribute(v.Name, "_FillValue", []float32{FillValue})
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// dataVariables returns the names of the (time, lat, lon) variables in h,
// in file order.
func dataVariables(h *cdf.Header) []string {
	var vars []string
	for _, v := range h.Variables() {
		if axisNames[v] || !h.IsRecordVariable(v) || len(h.Dimensions(v)) != 3 {
			continue
		}
		vars = append(vars, v)
	}
	return vars
}

// recordSize returns the number of values in one record of variable v.
func recordSize(h *cdf.Header, v string) int {
	n := 1
	for _, l := range h.Lengths(v)[1:] {
		n *= l
	}
	return n
}

// writeValues writes vals with w. The io.EOF returned when the last
// value of a fixed-size variable is written is not an error.
func writeValues(w cdf.Writer, vals interface{}, n int) error {
	nw, err := w.Write(vals)
	if err == io.EOF && nw == n {
		return nil
	}
	return err
}

// readRecord reads record i of variable v.
func readRecord(f *cdf.File, v string, i int) (interface{}, error) {
	nd := len(f.Header.Lengths(v))
	begin, end := make([]int, nd), make([]int, nd)
	begin[0], end[0] = i, i+1
	r := f.Reader(v, begin, end)
	buf := r.Zero(recordSize(f.Header, v))
	if _, err := r.Read(buf); err != nil && err != io.EOF {
		return nil, fmt.Errorf("reading %s record %d: %v", v, i, err)
	}
	return buf, nil
}

// writeRecord writes vals to record i of variable v, extending the file
// if necessary.
func writeRecord(f *cdf.File, v string, i int, vals interface{}) error {
	begin := make([]int, len(f.Header.Lengths(v)))
	begin[0] = i
	w := f.Writer(v, begin, nil)
	if err := writeValues(w, vals, recordSize(f.Header, v)); err != nil {
		return fmt.Errorf("writing %s record %d: %v", v, i, err)
	}
	return nil
}

// readFixed reads the whole of non-record variable v.
func readFixed(f *cdf.File, v string) (interface{}, error) {
	r := f.Reader(v, nil, nil)
	buf := r.Zero(-1)
	if _, err := r.Read(buf); err != nil && err != io.EOF {
		return nil, fmt.Errorf("reading %s: %v", v, err)
	}
	return buf, nil
}

func writeFixed(f *cdf.File, v string, vals interface{}) error {
	n := 1
	for _, l := range f.Header.Lengths(v) {
		n *= l
	}
	if err := writeValues(f.Writer(v, nil, nil), vals, n); err != nil {
		return fmt.Errorf("writing %s: %v", v, err)
	}
	return nil
}

// fillRecord returns one record of float32 fill values.
func fillRecord(n int) []float32 {
	buf := make([]float32, n)
	for i := range buf {
		buf[i] = FillValue
	}
	return buf
}

// readGeometry reads the axes of an open file.
func readGeometry(f *cdf.File) (Geometry, error) {
	var g Geometry
	for _, v := range []string{"lat", "lon"} {
		if f.Header.Lengths(v) == nil {
			return g, fmt.Errorf("tsfile: file has no %s variable", v)
		}
		buf, err := readFixed(f, v)
		if err != nil {
			return g, fmt.Errorf("tsfile: %v", err)
		}
		vals, ok := buf.([]float64)
		if !ok {
			return g, fmt.Errorf("tsfile: %s has type %T; expected []float64", v, buf)
		}
		if v == "lat" {
			g.Lat = vals
		} else {
			g.Lon = vals
		}
	}
	if a, ok := f.Header.GetAttribute("", "cell_size_arc_minutes").([]float64); ok && len(a) == 1 {
		g.CellSizeArcMin = a[0]
	}
	return g, nil
}

// attrPatch splits an attribute key into a variable and attribute name:
// "name" is a global attribute and "var:name" a variable attribute.
func attrPatch(key string) (v, a string) {
	if i := strings.Index(key, ":"); i >= 0 {
		return key[:i], key[i+1:]
	}
	return "", key
}

// patchedValue converts value to the type of the existing attribute old.
func patchedValue(old interface{}, value string) (interface{}, error) {
	switch old.(type) {
	case nil, string:
		return value, nil
	case []float64:
		f, err := cast.ToFloat64E(value)
		return []float64{f}, err
	case []float32:
		f, err := cast.ToFloat32E(value)
		return []float32{f}, err
	case []int32:
		i, err := cast.ToInt32E(value)
		return []int32{i}, err
	case []int16:
		i, err := cast.ToInt16E(value)
		return []int16{i}, err
	case []uint8:
		i, err := cast.ToUint8E(value)
		return []uint8{i}, err
	default:
		return nil, fmt.Errorf("unsupported attribute type %T", old)
	}
}

// rewrittenHeader returns a copy of old with attrs patched and the
// variables in add appended.
func rewrittenHeader(old *cdf.Header, attrs map[string]string, add []Variable) (*cdf.Header, error) {
	patches := make(map[string]map[string]string)
	for k, val := range attrs {
		v, a := attrPatch(k)
		if a == "" {
			return nil, fmt.Errorf("tsfile: invalid attribute name %q", k)
		}
		if v != "" && old.Lengths(v) == nil {
			return nil, fmt.Errorf("tsfile: attribute %q: no variable %q", k, v)
		}
		if patches[v] == nil {
			patches[v] = make(map[string]string)
		}
		patches[v][a] = val
	}

	h := cdf.NewHeader(old.Dimensions(""), old.Lengths(""))
	copyAttrs := func(v string) error {
		p := patches[v]
		for _, a := range old.Attributes(v) {
			val := old.GetAttribute(v, a)
			if s, ok := p[a]; ok {
				var err error
				if val, err = patchedValue(val, s); err != nil {
					return fmt.Errorf("tsfile: attribute %s:%s: %v", v, a, err)
				}
			}
			h.AddAttribute(v, a, val)
		}
		for _, a := range sortedKeys(p) {
			if old.GetAttribute(v, a) == nil {
				h.AddAttribute(v, a, p[a])
			}
		}
		return nil
	}
	for _, v := range old.Variables() {
		h.AddVariable(v, old.Dimensions(v), old.ZeroValue(v, 0))
		if err := copyAttrs(v); err != nil {
			return nil, err
		}
	}
	for _, v := range add {
		if old.Lengths(v.Name) != nil {
			return nil, fmt.Errorf("tsfile: variable %q already exists", v.Name)
		}
		if err := addDataVariable(h, v); err != nil {
			return nil, err
		}
	}
	if err := copyAttrs(""); err != nil {
		return nil, err
	}
	h.Define()
	if errs := h.Check(); len(errs) > 0 {
		return nil, fmt.Errorf("tsfile: invalid header: %v", errs[0])
	}
	return h, nil
}

// rewrite copies the file at path into a new file with header h and
// replaces path with it. Record variables of h that are not in the old
// file are filled with FillValue.
func rewrite(path string, h *cdf.Header) error {
	oldF, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("tsfile: %v", err)
	}
	defer oldF.Close()
	old, err := cdf.Open(oldF)
	if err != nil {
		return fmt.Errorf("tsfile: opening %s: %v", path, err)
	}
	fi, err := oldF.Stat()
	if err != nil {
		return fmt.Errorf("tsfile: %v", err)
	}
	nrec := int(old.Header.NumRecs(fi.Size()))

	tmp, err := ioutil.TempFile(filepath.Dir(path), "."+filepath.Base(path)+".")
	if err != nil {
		return fmt.Errorf("tsfile: creating temporary file: %v", err)
	}
	tmpPath := tmp.Name()
	fail := func(err error) error {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("tsfile: rewriting %s: %v", path, err)
	}
	nf, err := cdf.Create(tmp, h)
	if err != nil {
		return fail(err)
	}
	for _, v := range h.Variables() {
		if h.IsRecordVariable(v) {
			continue
		}
		buf, err := readFixed(old, v)
		if err != nil {
			return fail(err)
		}
		if err := writeFixed(nf, v, buf); err != nil {
			return fail(err)
		}
	}
	for i := 0; i < nrec; i++ {
		for _, v := range h.Variables() {
			if !h.IsRecordVariable(v) {
				continue
			}
			var buf interface{}
			if old.Header.Lengths(v) == nil {
				buf = fillRecord(recordSize(h, v))
			} else if buf, err = readRecord(old, v, i); err != nil {
				return fail(err)
			}
			if err := writeRecord(nf, v, i, buf); err != nil {
				return fail(err)
			}
		}
	}
	if err := cdf.UpdateNumRecs(tmp); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("tsfile: rewriting %s: %v", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("tsfile: rewriting %s: %v", path, err)
	}
	return nil
}
