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
	"path/filepath"
	"time"

	"github.com/GaryBoone/GoStats/stats"
	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/metregrid/tsfile"
	"gonum.org/v1/gonum/floats"
)

// ResamplerOptions configures a Resampler.
type ResamplerOptions struct {
	// Variable is the variable to produce.
	Variable VariableMetadata

	// Fine is the grid of the input fields and Target the output grid.
	Fine, Target GridDescriptor

	// Weights holds the area of each fine grid cell. If nil, all cells
	// are weighted equally.
	Weights *sparse.DenseArray

	Source Source
	Writer *tsfile.Writer

	// Output is the path of the output file.
	Output string

	// Attributes are the global attributes of the output file. If nil,
	// the default provenance attributes are used.
	Attributes map[string]string

	Log logrus.FieldLogger
}

// Resampler produces one output time slice per call to Step.
type Resampler struct {
	v          VariableMetadata
	inputs     []string
	derivation *Derivation
	agg        *Aggregator
	source     Source
	w          *tsfile.Writer
	path       string
	log        logrus.FieldLogger

	gaps int
}

// NewResampler validates the grids, creates the output directory and
// output file, and returns a Resampler. Geometry and resolution errors are
// returned before anything is written.
func NewResampler(o ResamplerOptions) (*Resampler, error) {
	if o.Source == nil {
		return nil, fmt.Errorf("metregrid: no input source")
	}
	if o.Variable.ShortName == "" {
		return nil, fmt.Errorf("metregrid: variable %q has no short name", o.Variable.Code)
	}
	agg, err := NewAggregator(o.Fine, o.Target, o.Weights)
	if err != nil {
		return nil, err
	}
	lon, lat, arcMin, err := DeriveAxes(o.Target)
	if err != nil {
		return nil, err
	}
	r := &Resampler{
		v:      o.Variable,
		agg:    agg,
		source: o.Source,
		w:      o.Writer,
		path:   o.Output,
		log:    o.Log,
	}
	if r.w == nil {
		r.w = tsfile.NewWriter(nil, o.Log)
	}
	if r.log == nil {
		r.log = logrus.StandardLogger()
	}
	if o.Variable.Expression != "" {
		if r.derivation, err = NewDerivation(o.Variable.Expression); err != nil {
			return nil, err
		}
		r.inputs = r.derivation.Inputs()
	} else {
		r.inputs = []string{o.Variable.Code}
	}

	attrs := o.Attributes
	if attrs == nil {
		attrs = GlobalAttributes(o.Fine.CellSizeArcMin(), arcMin, o.Variable)
	}
	if err := EnsureDir(filepath.Dir(o.Output)); err != nil {
		return nil, err
	}
	g := tsfile.Geometry{Lon: lon, Lat: lat, CellSizeArcMin: arcMin}
	vars := []tsfile.Variable{{
		Name:     o.Variable.ShortName,
		LongName: o.Variable.LongName,
		Units:    o.Variable.Unit,
	}}
	if err := r.w.Create(o.Output, g, vars, attrs); err != nil {
		return nil, err
	}
	r.log.WithFields(logrus.Fields{
		"variable": o.Variable.Code,
		"output":   o.Output,
		"fine":     o.Fine.String(),
		"target":   o.Target.String(),
		"block":    agg.BlockSize(),
	}).Info("resampling")
	return r, nil
}

// Path returns the output file path.
func (r *Resampler) Path() string { return r.path }

// Gaps returns the number of time steps written as data gaps.
func (r *Resampler) Gaps() int { return r.gaps }

// Step reads the input for date, aggregates it, and writes it to time
// index step of the output file. If the input is missing, a slice of
// MissingValue is written instead and a warning is logged.
func (r *Resampler) Step(ctx context.Context, date time.Time, step int) error {
	fields := make(map[string]*sparse.DenseArray, len(r.inputs))
	for _, in := range r.inputs {
		f, err := r.source.Read(ctx, in, date)
		if err != nil {
			if merr, ok := err.(*MissingInputError); ok && ctx.Err() == nil {
				r.log.WithError(merr).WithField("date", date.Format(DateFormat)).Warn("writing data gap")
				r.gaps++
				return r.write(date, step, r.gap())
			}
			return err
		}
		fields[in] = f
	}

	var fine *sparse.DenseArray
	if r.derivation != nil {
		var err error
		if fine, err = r.derivation.Evaluate(fields); err != nil {
			return err
		}
	} else {
		fine = fields[r.inputs[0]]
	}
	out, err := r.agg.Aggregate(fine)
	if err != nil {
		return fmt.Errorf("%v (date %s)", err, date.Format(DateFormat))
	}
	r.logSummary(date, out)
	return r.write(date, step, out)
}

func (r *Resampler) write(date time.Time, step int, field *sparse.DenseArray) error {
	_, err := r.w.AppendSlice(r.path, r.v.ShortName, date, field, step)
	return err
}

// gap returns a target field without data.
func (r *Resampler) gap() *sparse.DenseArray {
	t := r.agg.Target()
	g := sparse.ZerosDense(t.Rows, t.Cols)
	for i := range g.Elements {
		g.Elements[i] = MissingValue
	}
	return g
}

func (r *Resampler) logSummary(date time.Time, out *sparse.DenseArray) {
	valid := make([]float64, 0, len(out.Elements))
	for _, v := range out.Elements {
		if v != MissingValue {
			valid = append(valid, v)
		}
	}
	fields := logrus.Fields{
		"date":  date.Format(DateFormat),
		"valid": len(valid),
	}
	if len(valid) > 0 {
		fields["min"] = stats.StatsMin(valid)
		fields["max"] = stats.StatsMax(valid)
		fields["mean"] = floats.Sum(valid) / float64(len(valid))
	}
	r.log.WithFields(fields).Debug("aggregated")
}
