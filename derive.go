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
	"sort"

	"github.com/Knetic/govaluate"
	"github.com/ctessum/sparse"
	"github.com/spf13/cast"
)

// Derivation computes a field cell by cell from one or more input fields
// using an arithmetic expression such as "(tx + tn) / 2".
type Derivation struct {
	expression string
	expr       *govaluate.EvaluableExpression
	inputs     []string
}

var derivationFuncs = map[string]govaluate.ExpressionFunction{
	"max": func(args ...interface{}) (interface{}, error) {
		x, err := floatArgs("max", 2, args)
		if err != nil {
			return nil, err
		}
		return math.Max(x[0], x[1]), nil
	},
	"min": func(args ...interface{}) (interface{}, error) {
		x, err := floatArgs("min", 2, args)
		if err != nil {
			return nil, err
		}
		return math.Min(x[0], x[1]), nil
	},
	"sqrt": func(args ...interface{}) (interface{}, error) {
		x, err := floatArgs("sqrt", 1, args)
		if err != nil {
			return nil, err
		}
		return math.Sqrt(x[0]), nil
	},
}

// floatArgs converts the n arguments of function name to numbers.
func floatArgs(name string, n int, args []interface{}) ([]float64, error) {
	if len(args) != n {
		return nil, fmt.Errorf("metregrid: got %d arguments for function '%s', but needs %d", len(args), name, n)
	}
	x := make([]float64, n)
	for i, a := range args {
		var err error
		if x[i], err = cast.ToFloat64E(a); err != nil {
			return nil, fmt.Errorf("metregrid: argument %d of function '%s': %v", i+1, name, err)
		}
	}
	return x, nil
}

// NewDerivation parses expression. The variables named in it are the
// inputs of the derivation.
func NewDerivation(expression string) (*Derivation, error) {
	expr, err := govaluate.NewEvaluableExpressionWithFunctions(expression, derivationFuncs)
	if err != nil {
		return nil, fmt.Errorf("metregrid: parsing expression %q: %v", expression, err)
	}
	inputs := removeDuplicates(expr.Vars())
	if len(inputs) == 0 {
		return nil, fmt.Errorf("metregrid: expression %q does not use any variables", expression)
	}
	sort.Strings(inputs)
	return &Derivation{expression: expression, expr: expr, inputs: inputs}, nil
}

// Inputs returns the names of the fields the derivation needs, sorted.
func (d *Derivation) Inputs() []string { return d.inputs }

func (d *Derivation) String() string { return d.expression }

// Evaluate computes the derived field. All inputs must have the same shape.
// A cell is MissingValue if any of its inputs is MissingValue.
func (d *Derivation) Evaluate(fields map[string]*sparse.DenseArray) (*sparse.DenseArray, error) {
	in := make([]*sparse.DenseArray, len(d.inputs))
	for i, name := range d.inputs {
		f, ok := fields[name]
		if !ok || f == nil {
			return nil, fmt.Errorf("metregrid: expression %q: missing input %q", d.expression, name)
		}
		if i > 0 && !sameShape(f.Shape, in[0].Shape) {
			return nil, fmt.Errorf("metregrid: expression %q: input %q has shape %v but %q has shape %v",
				d.expression, name, f.Shape, d.inputs[0], in[0].Shape)
		}
		in[i] = f
	}
	out := sparse.ZerosDense(in[0].Shape...)
	params := make(map[string]interface{}, len(d.inputs))
	for k := range out.Elements {
		missing := false
		for i, name := range d.inputs {
			v := in[i].Elements[k]
			if v == MissingValue {
				missing = true
				break
			}
			params[name] = v
		}
		if missing {
			out.Elements[k] = MissingValue
			continue
		}
		result, err := d.expr.Evaluate(params)
		if err != nil {
			return nil, fmt.Errorf("metregrid: evaluating %q: %v", d.expression, err)
		}
		v, ok := result.(float64)
		if !ok {
			return nil, fmt.Errorf("metregrid: expression %q returned %T, not a number", d.expression, result)
		}
		out.Elements[k] = v
	}
	return out, nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// removeDuplicates removes all duplicated strings from a slice, returning a
// slice that contains only unique strings.
func removeDuplicates(s []string) []string {
	result := make([]string, 0, len(s))
	seen := make(map[string]struct{})
	for _, val := range s {
		if _, ok := seen[val]; !ok {
			result = append(result, val)
			seen[val] = struct{}{}
		}
	}
	return result
}
