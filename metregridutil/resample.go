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
	"context"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/metregrid"
	"github.com/spatialmodel/metregrid/cloud"
	"github.com/spatialmodel/metregrid/tsfile"
)

// Resample resamples the variable specified in cfg over the configured
// time period, and uploads the output file if requested.
func Resample(ctx context.Context, cfg *Cfg) error {
	v, err := cfg.variable()
	if err != nil {
		return err
	}
	fine, err := cfg.fineGrid()
	if err != nil {
		return err
	}
	target, err := cfg.targetGrid(fine)
	if err != nil {
		return err
	}
	weights, err := cfg.weights()
	if err != nil {
		return err
	}
	mt, err := metregrid.NewModelTime(cfg.GetString("start_date"), cfg.GetString("end_date"))
	if err != nil {
		return err
	}

	outDir := os.ExpandEnv(cfg.GetString("output_dir"))
	output := os.ExpandEnv(cfg.GetString("output_file"))
	if output == "" {
		output = metregrid.OutputPath(outDir, v, cfg.GetString("output_suffix"))
	}
	attrs, err := getStringMapString("attribute", cfg.Viper)
	if err != nil {
		return err
	}
	var global map[string]string
	if len(attrs) > 0 {
		global = metregrid.GlobalAttributes(fine.CellSizeArcMin(), target.CellSizeArcMin(), v)
		for k, val := range attrs {
			global[k] = val
		}
	}

	src, closeSrc, err := cfg.source(ctx, v, metregrid.TempDir(filepath.Dir(filepath.Dir(output)), v))
	if err != nil {
		return err
	}
	defer closeSrc()

	w := tsfile.NewWriter(tsfile.NewCache(cfg.GetInt("max_open_files")), cfg.log)
	r, err := metregrid.NewResampler(metregrid.ResamplerOptions{
		Variable:   v,
		Fine:       fine,
		Target:     target,
		Weights:    weights,
		Source:     src,
		Writer:     w,
		Output:     output,
		Attributes: global,
		Log:        cfg.log,
	})
	if err != nil {
		return err
	}
	if err := metregrid.Run(ctx, mt, w, cfg.log, r); err != nil {
		return err
	}
	cfg.log.WithFields(logrus.Fields{
		"output": r.Path(),
		"gaps":   r.Gaps(),
	}).Info("finished resampling")

	if dst := os.ExpandEnv(cfg.GetString("upload")); dst != "" {
		dst = cloud.Join(dst, v.ShortName, filepath.Base(output))
		if err := cloud.Upload(ctx, output, dst); err != nil {
			return err
		}
		cfg.log.WithField("destination", dst).Info("uploaded output")
	}
	return nil
}
