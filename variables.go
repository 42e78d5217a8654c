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
	"sort"

	"github.com/BurntSushi/toml"
)

// VariableMetadata describes one meteorological variable.
type VariableMetadata struct {
	// Code is the short variable code, e.g. "pr".
	Code string `toml:"-"`

	// ShortName is used as the netCDF variable name and output folder name.
	ShortName   string
	Unit        string
	LongName    string
	Description string

	// Expression, if set, derives the variable from other variables
	// (named by their codes) instead of reading it directly.
	Expression string
}

// VariableTable maps variable codes to their metadata.
type VariableTable map[string]VariableMetadata

// DefaultVariables returns the metadata for the EFAS-Meteo daily variables.
func DefaultVariables() VariableTable {
	t := VariableTable{
		"pd": {
			ShortName:   "vapour_pressure",
			Unit:        "hPa",
			LongName:    "daily_mean_vapour_pressure",
			Description: "Mean daily vapour pressure (hPa).",
		},
		"pr": {
			ShortName:   "precipitation",
			Unit:        "m.day-1",
			LongName:    "daily_precipitation",
			Description: "Daily precipitation between 6 UTC on the day specified and 6 UTC on the next day.",
		},
		"rg": {
			ShortName: "downward_surface_solar_radiation",
			Unit:      "J.m-2.day-1",
			LongName:  "calculated_downward_surface_solar_radiation",
			Description: "Downward surface solar radiation (J.m-2.day-1), see the references for the methodology. " +
				"Note that the unit is J/m2/day as given in the Lisvap manual p.18 " +
				"(it should be J m-2 d-1 instead of Jm-2 d): " +
				"https://ec.europa.eu/jrc/en/publication/eur-scientific-and-technical-research-reports/lisvap-evaporation-pre-processor-lisflood-water-balance-and-flood-simulation-model ",
		},
		"tn": {
			ShortName:   "minimum_temperature",
			Unit:        "degrees Celcius",
			LongName:    "daily_minimum_temperature",
			Description: "Daily minimum temperature between 18 UTC and 6 UTC (i.e. during the preceding night) at 2m.",
		},
		"tx": {
			ShortName:   "maximum_temperature",
			Unit:        "degrees Celcius",
			LongName:    "daily_maximum_temperature",
			Description: "Daily maximum temperature between 6 UTC and 18 UTC (i.e. during daytime) at 2m.",
		},
		"ta": {
			ShortName: "temperature",
			Unit:      "degrees Celcius",
			LongName:  "daily_mean_temperature",
			Description: "Daily mean temperature (ta) ; calculated using ta = (tx+tn)/2 ; " +
				"with tx and tn are the maximum and minimum temperature values.",
			Expression: "(tx + tn) / 2",
		},
		"ws": {
			ShortName:   "wind_speed",
			Unit:        "m.s-1",
			LongName:    "daily_mean_wind_speed",
			Description: "Mean daily wind speed at 10 m height (m/s) calculated from 3-hourly observations (0-24 UTC).",
		},
	}
	for code, v := range t {
		v.Code = code
		t[code] = v
	}
	return t
}

// LoadVariableTable returns the default variables overridden and extended by
// the entries in the TOML file at path, where each table is keyed by the
// variable code:
//
//	[pr]
//	ShortName = "precipitation"
//	Unit = "mm.day-1"
//
// Fields that are not set in the file keep their default values.
func LoadVariableTable(path string) (VariableTable, error) {
	t := DefaultVariables()
	if path == "" {
		return t, nil
	}
	var override map[string]VariableMetadata
	if _, err := toml.DecodeFile(path, &override); err != nil {
		return nil, fmt.Errorf("metregrid: reading variable table: %v", err)
	}
	for code, o := range override {
		v := t[code]
		v.Code = code
		if o.ShortName != "" {
			v.ShortName = o.ShortName
		}
		if o.Unit != "" {
			v.Unit = o.Unit
		}
		if o.LongName != "" {
			v.LongName = o.LongName
		}
		if o.Description != "" {
			v.Description = o.Description
		}
		if o.Expression != "" {
			v.Expression = o.Expression
		}
		if v.ShortName == "" {
			return nil, fmt.Errorf("metregrid: variable table %s: variable %q has no ShortName", path, code)
		}
		t[code] = v
	}
	return t, nil
}

// Lookup returns the metadata for the variable with the given code.
func (t VariableTable) Lookup(code string) (VariableMetadata, error) {
	v, ok := t[code]
	if !ok {
		return v, fmt.Errorf("metregrid: unknown variable code %q; valid codes are %v", code, t.Codes())
	}
	return v, nil
}

// Codes returns the sorted variable codes in t.
func (t VariableTable) Codes() []string {
	codes := make([]string, 0, len(t))
	for c := range t {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// Inputs returns the codes of the variables that must be read to produce v:
// the variables in its expression, or v itself.
func (v VariableMetadata) Inputs() ([]string, error) {
	if v.Expression == "" {
		return []string{v.Code}, nil
	}
	d, err := NewDerivation(v.Expression)
	if err != nil {
		return nil, err
	}
	return d.Inputs(), nil
}
