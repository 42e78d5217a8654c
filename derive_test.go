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
	"reflect"
	"testing"

	"github.com/ctessum/sparse"
)

func TestDerivation(t *testing.T) {
	d, err := NewDerivation("(tx + tn) / 2")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(d.Inputs(), []string{"tn", "tx"}) {
		t.Errorf("inputs %v", d.Inputs())
	}
	out, err := d.Evaluate(map[string]*sparse.DenseArray{
		"tx": field(1, 3, 10, 20, MissingValue),
		"tn": field(1, 3, 2, -4, 0),
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{6, 8, MissingValue}
	if !reflect.DeepEqual(out.Elements, want) {
		t.Errorf("%v != %v", out.Elements, want)
	}
}

func TestDerivationFunctions(t *testing.T) {
	d, err := NewDerivation("sqrt(max(u, v) * min(u, v))")
	if err != nil {
		t.Fatal(err)
	}
	out, err := d.Evaluate(map[string]*sparse.DenseArray{
		"u": field(1, 2, 4, 1),
		"v": field(1, 2, 9, 1),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out.Elements, []float64{6, 1}) {
		t.Errorf("%v", out.Elements)
	}
}

func TestDerivationErrors(t *testing.T) {
	if _, err := NewDerivation("(tx + "); err == nil {
		t.Error("invalid expression should fail")
	}
	if _, err := NewDerivation("1 + 2"); err == nil {
		t.Error("expression without variables should fail")
	}
	d, err := NewDerivation("a + b")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Evaluate(map[string]*sparse.DenseArray{"a": field(1, 1, 1)}); err == nil {
		t.Error("missing input should fail")
	}
	if _, err := d.Evaluate(map[string]*sparse.DenseArray{"a": field(1, 1, 1), "b": field(1, 2, 1, 2)}); err == nil {
		t.Error("inputs of different shapes should fail")
	}
}

func TestDerivationFunctionArguments(t *testing.T) {
	for _, expr := range []string{"max('a', u)", "sqrt(u, u)", "min(u)"} {
		t.Run(expr, func(t *testing.T) {
			d, err := NewDerivation(expr)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := d.Evaluate(map[string]*sparse.DenseArray{"u": field(1, 1, 4)}); err == nil {
				t.Error("invalid function arguments should fail")
			}
		})
	}
}
