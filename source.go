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
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/cenkalti/backoff"
	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/metregrid/raster"
	"github.com/spatialmodel/metregrid/tsfile"
)

// Source provides the fine-resolution input field of a variable for a date.
// Implementations return a *MissingInputError when the field for a
// date cannot be read.
type Source interface {
	Read(ctx context.Context, variable string, date time.Time) (*sparse.DenseArray, error)
}

// readWithRetry runs read, retrying up to retries times with exponential
// backoff. A final failure is returned as a *MissingInputError.
func readWithRetry(ctx context.Context, log logrus.FieldLogger, path string, date time.Time, retries int,
	read func() (*sparse.DenseArray, error)) (*sparse.DenseArray, error) {
	var data *sparse.DenseArray
	var b backoff.BackOff = &backoff.StopBackOff{}
	if retries > 0 {
		b = backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(retries))
	}
	err := backoff.RetryNotify(
		func() error {
			if err := ctx.Err(); err != nil {
				return nil
			}
			var err error
			data, err = read()
			return err
		},
		b,
		func(err error, d time.Duration) {
			if log != nil {
				log.WithError(err).WithField("path", path).Warnf("retrying in %v", d)
			}
		},
	)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return nil, &MissingInputError{Path: path, Date: date, Err: err}
	}
	return data, nil
}

// ExpandName replaces "[VAR]" in template with the variable code and
// "[NAME]" with its short name in table. Codes missing from table use the
// code as short name.
func ExpandName(template string, table VariableTable, variable string) string {
	name := variable
	if v, ok := table[variable]; ok && v.ShortName != "" {
		name = v.ShortName
	}
	p := strings.Replace(template, "[VAR]", variable, -1)
	return strings.Replace(p, "[NAME]", name, -1)
}

// TemplateSource reads one raster file per variable and date. The file name
// is built from Template by replacing "[VAR]" with the variable code,
// "[NAME]" with its short name in Table and "[DATE]" with the date
// formatted using DateFormat.
type TemplateSource struct {
	Template   string
	DateFormat string
	Table      VariableTable

	// Retries is the number of times a failed read is retried.
	Retries int

	Log logrus.FieldLogger
}

// Path returns the file name of variable at date.
func (s *TemplateSource) Path(variable string, date time.Time) string {
	format := s.DateFormat
	if format == "" {
		format = "20060102"
	}
	p := ExpandName(s.Template, s.Table, variable)
	return strings.Replace(p, "[DATE]", date.Format(format), -1)
}

// Read implements Source.
func (s *TemplateSource) Read(ctx context.Context, variable string, date time.Time) (*sparse.DenseArray, error) {
	path := s.Path(variable, date)
	return readWithRetry(ctx, s.Log, path, date, s.Retries, func() (*sparse.DenseArray, error) {
		data, _, err := raster.Read(path, MissingValue)
		return data, err
	})
}

// NetCDFSource reads fields from netCDF time series files with one file per
// variable, such as the files written by this package. The file name is
// built from Template by replacing "[VAR]" with the variable code and
// "[NAME]" with its short name in Table.
type NetCDFSource struct {
	Template string
	Table    VariableTable

	// Variables maps variable codes to the names of the netCDF variables
	// holding them. Other codes are read from the variable named by their
	// short name in Table, or by the code itself.
	Variables map[string]string

	Retries int

	Log logrus.FieldLogger

	mu    sync.Mutex
	files map[string]*ncInput
}

// ncInput is an open netCDF input file. Classic format files are also
// opened with cdf, which reads single records of record variables.
type ncInput struct {
	nc    api.Group
	f     *os.File
	cf    *cdf.File
	index map[time.Time]int64
}

func (f *ncInput) close() {
	f.nc.Close()
	if f.f != nil {
		f.f.Close()
	}
}

// Path returns the file name of variable.
func (s *NetCDFSource) Path(variable string) string {
	return ExpandName(s.Template, s.Table, variable)
}

func (s *NetCDFSource) varName(variable string) string {
	if n, ok := s.Variables[variable]; ok {
		return n
	}
	if v, ok := s.Table[variable]; ok && v.ShortName != "" {
		return v.ShortName
	}
	return variable
}

// Read implements Source.
func (s *NetCDFSource) Read(ctx context.Context, variable string, date time.Time) (*sparse.DenseArray, error) {
	path := s.Path(variable)
	return readWithRetry(ctx, s.Log, path, date, s.Retries, func() (*sparse.DenseArray, error) {
		f, err := s.open(path)
		if err != nil {
			return nil, err
		}
		i, ok := f.index[date.UTC().Truncate(24*time.Hour)]
		if !ok {
			return nil, fmt.Errorf("no time step for %s", date.Format(DateFormat))
		}
		return f.readSlice(s.varName(variable), i)
	})
}

// Close closes all open input files.
func (s *NetCDFSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for path, f := range s.files {
		f.close()
		delete(s.files, path)
	}
}

func (s *NetCDFSource) open(path string) (*ncInput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.files[path]; ok {
		return f, nil
	}
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, err
	}
	f := &ncInput{nc: nc}
	if f.index, err = readTimeIndex(nc); err != nil {
		f.close()
		return nil, fmt.Errorf("reading time axis: %v", err)
	}
	if f.f, f.cf, err = openClassic(path); err != nil {
		f.close()
		return nil, err
	}
	if s.files == nil {
		s.files = make(map[string]*ncInput)
	}
	s.files[path] = f
	return f, nil
}

// openClassic opens path with cdf if it is a classic format netCDF file.
// Other files return nil handles.
func openClassic(path string) (*os.File, *cdf.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	magic := make([]byte, 3)
	if _, err := io.ReadFull(f, magic); err != nil || string(magic) != "CDF" {
		f.Close()
		return nil, nil, nil
	}
	cf, err := cdf.Open(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%s: %v", path, err)
	}
	return f, cf, nil
}

// readTimeIndex maps the dates on the time axis of nc to their indices.
func readTimeIndex(nc api.Group) (map[time.Time]int64, error) {
	vg, err := nc.GetVarGetter("time")
	if err != nil {
		return nil, err
	}
	units, ok := vg.Attributes().Get("units")
	if !ok {
		return nil, fmt.Errorf("time variable has no units")
	}
	u, ok := units.(string)
	if !ok {
		return nil, fmt.Errorf("time units are %T, not a string", units)
	}
	tu, err := tsfile.ParseTimeUnits(u)
	if err != nil {
		return nil, err
	}
	v, err := vg.Values()
	if err != nil {
		return nil, err
	}
	vals, err := toFloat64s(v)
	if err != nil {
		return nil, fmt.Errorf("time values: %v", err)
	}
	index := make(map[time.Time]int64, len(vals))
	for i, t := range vals {
		index[tu.Decode(t).Truncate(24*time.Hour)] = int64(i)
	}
	return index, nil
}

// readSlice reads time index i of the (time, lat, lon) variable name.
// Fill values are converted to MissingValue and packed values are
// unpacked using scale_factor and add_offset.
func (f *ncInput) readSlice(name string, i int64) (*sparse.DenseArray, error) {
	vg, err := f.nc.GetVarGetter(name)
	if err != nil {
		return nil, err
	}
	if d := vg.Dimensions(); len(d) != 3 {
		return nil, fmt.Errorf("variable %s has dimensions %v; expected (time, lat, lon)", name, d)
	}
	var vals []float64
	var ny, nx int
	if f.cf != nil {
		vals, ny, nx, err = readClassicRecord(f.cf, name, int(i))
	} else {
		vals, ny, nx, err = readHDF5Slice(vg, name, i)
	}
	if err != nil {
		return nil, err
	}
	if ny == 0 || nx == 0 || len(vals) != ny*nx {
		return nil, fmt.Errorf("variable %s has %d values for a %dx%d grid", name, len(vals), ny, nx)
	}

	attrs := vg.Attributes()
	fill, hasFill := attrFloat(attrs, "_FillValue")
	if !hasFill {
		fill, hasFill = attrFloat(attrs, "missing_value")
	}
	scale, hasScale := attrFloat(attrs, "scale_factor")
	if !hasScale {
		scale = 1
	}
	offset, _ := attrFloat(attrs, "add_offset")

	data := sparse.ZerosDense(ny, nx)
	for j, x := range vals {
		switch {
		case hasFill && (x == fill || float32(x) == float32(fill)):
			data.Elements[j] = MissingValue
		case math.IsNaN(x):
			data.Elements[j] = MissingValue
		default:
			data.Elements[j] = x*scale + offset
		}
	}
	return data, nil
}

// readClassicRecord reads record i of the record variable name.
func readClassicRecord(cf *cdf.File, name string, i int) ([]float64, int, int, error) {
	shape := cf.Header.Lengths(name)
	if len(shape) != 3 {
		return nil, 0, 0, fmt.Errorf("variable %s is not a (time, lat, lon) record variable", name)
	}
	r := cf.Reader(name, []int{i, 0, 0}, []int{i + 1, 0, 0})
	buf := r.Zero(shape[1] * shape[2])
	if _, err := r.Read(buf); err != nil && err != io.EOF {
		return nil, 0, 0, fmt.Errorf("reading %s record %d: %v", name, i, err)
	}
	vals, err := toFloat64s(buf)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("variable %s: %v", name, err)
	}
	return vals, shape[1], shape[2], nil
}

// readHDF5Slice reads time index i of a netCDF-4 variable.
func readHDF5Slice(vg api.VarGetter, name string, i int64) ([]float64, int, int, error) {
	v, err := vg.GetSlice(i, i+1)
	if err != nil {
		return nil, 0, 0, err
	}
	var vals []float64
	var ny, nx int
	switch s := v.(type) {
	case [][][]float32:
		if len(s) == 0 {
			break
		}
		ny = len(s[0])
		for _, r := range s[0] {
			nx = len(r)
			for _, x := range r {
				vals = append(vals, float64(x))
			}
		}
	case [][][]float64:
		if len(s) == 0 {
			break
		}
		ny = len(s[0])
		for _, r := range s[0] {
			nx = len(r)
			vals = append(vals, r...)
		}
	case [][][]int16:
		if len(s) == 0 {
			break
		}
		ny = len(s[0])
		for _, r := range s[0] {
			nx = len(r)
			for _, x := range r {
				vals = append(vals, float64(x))
			}
		}
	default:
		return nil, 0, 0, fmt.Errorf("variable %s has unsupported type %T", name, v)
	}
	return vals, ny, nx, nil
}

func attrFloat(attrs api.AttributeMap, key string) (float64, bool) {
	v, ok := attrs.Get(key)
	if !ok {
		return 0, false
	}
	f, err := toFloat64s(v)
	if err != nil || len(f) == 0 {
		return 0, false
	}
	return f[0], true
}

// toFloat64s converts a numeric value or slice read from a netCDF file to
// []float64.
func toFloat64s(v interface{}) ([]float64, error) {
	switch s := v.(type) {
	case []float64:
		return s, nil
	case float64:
		return []float64{s}, nil
	case []float32:
		o := make([]float64, len(s))
		for i, x := range s {
			o[i] = float64(x)
		}
		return o, nil
	case float32:
		return []float64{float64(s)}, nil
	case []int32:
		o := make([]float64, len(s))
		for i, x := range s {
			o[i] = float64(x)
		}
		return o, nil
	case int32:
		return []float64{float64(s)}, nil
	case []int64:
		o := make([]float64, len(s))
		for i, x := range s {
			o[i] = float64(x)
		}
		return o, nil
	case int64:
		return []float64{float64(s)}, nil
	case []int16:
		o := make([]float64, len(s))
		for i, x := range s {
			o[i] = float64(x)
		}
		return o, nil
	case int16:
		return []float64{float64(s)}, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}
