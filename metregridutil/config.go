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
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/ctessum/sparse"
	"github.com/lnashier/viper"
	"github.com/spatialmodel/metregrid"
	"github.com/spatialmodel/metregrid/cloud"
	"github.com/spatialmodel/metregrid/raster"
	"github.com/spf13/cast"
)

// getStringMapString returns a map[string]string from a viper configuration,
// accounting for the fact that it might be a json object if it was set
// from a command line argument.
func getStringMapString(varName string, cfg *viper.Viper) (map[string]string, error) {
	i := cfg.Get(varName)
	switch v := i.(type) {
	case nil:
		return map[string]string{}, nil
	case map[string]string:
		return v, nil
	case map[string]interface{}:
		return cast.ToStringMapStringE(v)
	case string:
		if v == "" {
			return map[string]string{}, nil
		}
		o := make(map[string]string)
		if err := json.NewDecoder(bytes.NewBufferString(v)).Decode(&o); err != nil {
			return nil, fmt.Errorf("metregrid: parsing %s: %v", varName, err)
		}
		return o, nil
	default:
		return nil, fmt.Errorf("metregrid: invalid type for %s: %#v", varName, i)
	}
}

// expandStringSlice expands the environment variables in each element of s.
func expandStringSlice(s []string) []string {
	o := make([]string, len(s))
	for i, ss := range s {
		o[i] = os.ExpandEnv(ss)
	}
	return o
}

func (cfg *Cfg) variableTable() (metregrid.VariableTable, error) {
	return metregrid.LoadVariableTable(os.ExpandEnv(cfg.GetString("variable_table")))
}

func (cfg *Cfg) variable() (metregrid.VariableMetadata, error) {
	table, err := cfg.variableTable()
	if err != nil {
		return metregrid.VariableMetadata{}, err
	}
	return table.Lookup(cfg.GetString("variable"))
}

// fineGrid returns the grid of the input fields: the extent of the
// fine_grid file divided into cells of fine_resolution arc minutes.
func (cfg *Cfg) fineGrid() (metregrid.GridDescriptor, error) {
	path := os.ExpandEnv(cfg.GetString("fine_grid"))
	if path == "" {
		return metregrid.GridDescriptor{}, fmt.Errorf("metregrid: fine_grid must be specified")
	}
	h, err := raster.ReadHeader(path)
	if err != nil {
		return metregrid.GridDescriptor{}, err
	}
	g, err := metregrid.FromGridDescriptor(h)
	if err != nil {
		return metregrid.GridDescriptor{}, err
	}
	return atResolution(g, cfg.GetFloat64("fine_resolution"))
}

// atResolution returns the grid covering the extent of g with cells of
// arcMin arc minutes. arcMin <= 0 returns g.
func atResolution(g metregrid.GridDescriptor, arcMin float64) (metregrid.GridDescriptor, error) {
	if arcMin <= 0 || math.Abs(g.CellSizeArcMin()-arcMin) < 1e-9 {
		return g, nil
	}
	cs := arcMin / 60
	o := metregrid.GridDescriptor{
		Rows:     int(math.Round(float64(g.Rows) * g.CellSize / cs)),
		Cols:     int(math.Round(float64(g.Cols) * g.CellSize / cs)),
		CellSize: cs,
		XUL:      g.XUL,
		YUL:      g.YUL,
	}
	return o, o.Validate()
}

// targetGrid returns the output grid from the target_grid option, or
// fine at output_resolution if target_grid is not set.
func (cfg *Cfg) targetGrid(fine metregrid.GridDescriptor) (metregrid.GridDescriptor, error) {
	switch v := cfg.Get("target_grid").(type) {
	case map[string]interface{}:
		return metregrid.FromDictionaryDescriptor(v)
	case string:
		v = strings.TrimSpace(os.ExpandEnv(v))
		switch {
		case v == "":
			return metregrid.DeriveTarget(fine, cfg.GetFloat64("output_resolution"))
		case strings.HasPrefix(v, "{"):
			m := make(map[string]interface{})
			if err := json.Unmarshal([]byte(v), &m); err != nil {
				return metregrid.GridDescriptor{}, fmt.Errorf("metregrid: parsing target_grid: %v", err)
			}
			return metregrid.FromDictionaryDescriptor(m)
		default:
			h, err := raster.ReadHeader(v)
			if err != nil {
				return metregrid.GridDescriptor{}, err
			}
			return metregrid.FromGridDescriptor(h)
		}
	default:
		return metregrid.GridDescriptor{}, fmt.Errorf("metregrid: invalid type for target_grid: %#v", v)
	}
}

// weights returns the cell area raster, or nil if cell_area is not set.
func (cfg *Cfg) weights() (*sparse.DenseArray, error) {
	path := os.ExpandEnv(cfg.GetString("cell_area"))
	if path == "" {
		return nil, nil
	}
	w, _, err := raster.Read(path, metregrid.MissingValue)
	return w, err
}

// source returns the input source for variable v. NetCDF input in blob
// storage is downloaded into stage first. The returned function releases
// the source.
func (cfg *Cfg) source(ctx context.Context, v metregrid.VariableMetadata, stage string) (metregrid.Source, func(), error) {
	input := os.ExpandEnv(cfg.GetString("input"))
	if input == "" {
		return nil, nil, fmt.Errorf("metregrid: input must be specified")
	}
	table, err := cfg.variableTable()
	if err != nil {
		return nil, nil, err
	}
	retries := cfg.GetInt("read_retries")
	switch t := cfg.GetString("input_type"); t {
	case "template":
		if cloud.IsBlob(input) {
			return nil, nil, fmt.Errorf("metregrid: template input cannot be read from blob storage")
		}
		s := &metregrid.TemplateSource{
			Template:   input,
			DateFormat: cfg.GetString("input_date_format"),
			Table:      table,
			Retries:    retries,
			Log:        cfg.log,
		}
		return s, func() {}, nil
	case "netcdf":
		names, err := getStringMapString("input_variable", cfg.Viper)
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() {}
		if cloud.IsBlob(input) {
			if input, err = download(ctx, v, table, input, stage); err != nil {
				return nil, nil, err
			}
			cleanup = func() { os.RemoveAll(stage) }
		}
		s := &metregrid.NetCDFSource{
			Template:  input,
			Table:     table,
			Variables: names,
			Retries:   retries,
			Log:       cfg.log,
		}
		return s, func() { s.Close(); cleanup() }, nil
	default:
		return nil, nil, fmt.Errorf("metregrid: invalid input_type %q; valid options are 'netcdf' and 'template'", t)
	}
}

// download copies the netCDF input files of v from blob storage into
// stage and returns the local template.
func download(ctx context.Context, v metregrid.VariableMetadata, table metregrid.VariableTable, template, stage string) (string, error) {
	inputs, err := v.Inputs()
	if err != nil {
		return "", err
	}
	base := template[strings.LastIndex(template, "/")+1:]
	for _, code := range inputs {
		dir := filepath.Join(stage, code)
		if err := metregrid.EnsureDir(dir); err != nil {
			return "", err
		}
		if _, err := cloud.Download(ctx, metregrid.ExpandName(template, table, code), dir); err != nil {
			return "", err
		}
	}
	return filepath.Join(stage, "[VAR]", base), nil
}
