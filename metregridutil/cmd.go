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

// Package metregridutil contains the command-line interface for metregrid.
package metregridutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/metregrid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
type Cfg struct {
	*viper.Viper

	// Root is the main command.
	Root *cobra.Command

	versionCmd, resampleCmd, correctCmd, infoCmd *cobra.Command

	log *logrus.Logger
}

// option is a configuration option that can be set with a flag, a
// configuration file entry or an environment variable.
type option struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

// InitializeConfig initializes the configuration and the commands.
func InitializeConfig() *Cfg {
	cfg := &Cfg{
		Viper: viper.New(),
		log:   logrus.New(),
	}
	cfg.log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339Nano,
	})

	cfg.Root = &cobra.Command{
		Use:   "metregrid",
		Short: "Resample gridded meteorological time series.",
		Long: `metregrid aggregates daily gridded meteorological fields onto a coarser
regular latitude-longitude grid and writes the result as netCDF time series.
Use the subcommands specified below to access the functionality.

Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'METREGRID_var' where 'var' is the
name of the variable to be set. Many configuration variables are additionally
allowed to contain environment variables within them.
Refer to https://github.com/spf13/viper for additional configuration information.`,
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if err := cfg.setConfig(); err != nil {
				return err
			}
			return cfg.setLogLevel()
		},
	}

	cfg.versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Long:  "version prints the version number of this version of metregrid.",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("metregrid v%s\n", metregrid.Version)
		},
		DisableAutoGenTag: true,
	}

	cfg.resampleCmd = &cobra.Command{
		Use:   "resample",
		Short: "Resample a variable",
		Long: `resample reads the daily fields of one variable from the input files,
aggregates them onto the output grid, and appends them to the output
time series file. Days without input are written as missing data.
An existing output file is replaced.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Resample(context.Background(), cfg)
		},
		DisableAutoGenTag: true,
	}

	cfg.correctCmd = &cobra.Command{
		Use:   "correct [files...]",
		Short: "Change the attributes of existing output files",
		Long: `correct sets the attributes given by the 'attribute' option in every
file matching the patterns in the 'files' option or the arguments.
Attribute names of the form 'variable:name' set variable attributes;
all others set global attributes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			attrs, err := getStringMapString("attribute", cfg.Viper)
			if err != nil {
				return err
			}
			patterns := append(expandStringSlice(cfg.GetStringSlice("files")), args...)
			_, err = Correct(cfg.log, patterns, attrs, cfg.GetBool("close_after"))
			return err
		},
		DisableAutoGenTag: true,
	}

	cfg.infoCmd = &cobra.Command{
		Use:   "info files...",
		Short: "Describe output files",
		Long: `info prints the grid, variables, time range and attributes of
the given time series files.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return Info(cmd.OutOrStdout(), args...)
		},
		DisableAutoGenTag: true,
	}

	// Link the commands together.
	cfg.Root.AddCommand(cfg.versionCmd)
	cfg.Root.AddCommand(cfg.resampleCmd)
	cfg.Root.AddCommand(cfg.correctCmd)
	cfg.Root.AddCommand(cfg.infoCmd)

	options := []option{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{cfg.Root.PersistentFlags()},
		},
		{
			name: "log_level",
			usage: `
              log_level specifies the logging level: one of debug, info,
              warning or error.`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{cfg.Root.PersistentFlags()},
		},
		{
			name: "max_open_files",
			usage: `
              max_open_files specifies the maximum number of output files
              kept open at once. Zero means no limit.`,
			defaultVal: 64,
			flagsets:   []*pflag.FlagSet{cfg.Root.PersistentFlags()},
		},
		{
			name: "variable",
			usage: `
              variable specifies the code of the variable to resample,
              for example 'pr' or 'ta'.`,
			shorthand:  "v",
			defaultVal: "pr",
			flagsets:   []*pflag.FlagSet{cfg.resampleCmd.Flags()},
		},
		{
			name: "variable_table",
			usage: `
              variable_table specifies the location of a TOML file that
              overrides or extends the variable metadata table.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{cfg.resampleCmd.Flags()},
		},
		{
			name: "input",
			usage: `
              input specifies the location of the input files. '[VAR]'
              is replaced by the variable code, '[NAME]' by its short
              name and, for 'template' input, '[DATE]' by the date. NetCDF input may be stored in blob
              storage (gs://, s3:// or file://).`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{cfg.resampleCmd.Flags()},
		},
		{
			name: "input_type",
			usage: `
              input_type specifies the input format: 'netcdf' for one
              netCDF time series file per variable, or 'template' for one
              raster file per variable and day.`,
			defaultVal: "netcdf",
			flagsets:   []*pflag.FlagSet{cfg.resampleCmd.Flags()},
		},
		{
			name: "input_variable",
			usage: `
              input_variable maps variable codes to the names of the
              variables in netCDF input files. Codes without an entry
              are read from the variable named by their short name.`,
			defaultVal: map[string]string{},
			flagsets:   []*pflag.FlagSet{cfg.resampleCmd.Flags()},
		},
		{
			name: "input_date_format",
			usage: `
              input_date_format specifies the Go time layout of the
              '[DATE]' wildcard in template input.`,
			defaultVal: "20060102",
			flagsets:   []*pflag.FlagSet{cfg.resampleCmd.Flags()},
		},
		{
			name: "read_retries",
			usage: `
              read_retries specifies how many times a failed input read is
              retried before the day is written as missing data.`,
			defaultVal: 2,
			flagsets:   []*pflag.FlagSet{cfg.resampleCmd.Flags()},
		},
		{
			name: "fine_grid",
			usage: `
              fine_grid specifies the location of the grid definition
              (clone) file: an ESRI ASCII grid (.asc) or float grid (.flt).`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{cfg.resampleCmd.Flags()},
		},
		{
			name: "fine_resolution",
			usage: `
              fine_resolution specifies the cell size of the input fields in
              arc minutes. The extent of fine_grid is divided into cells of
              this size. Zero means the cell size of fine_grid.`,
			defaultVal: 2.5,
			flagsets:   []*pflag.FlagSet{cfg.resampleCmd.Flags()},
		},
		{
			name: "cell_area",
			usage: `
              cell_area specifies the location of a raster with the area of
              each input grid cell, used to weight the aggregation. If empty,
              all cells are weighted equally.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{cfg.resampleCmd.Flags()},
		},
		{
			name: "output_resolution",
			usage: `
              output_resolution specifies the output cell size in arc minutes.
              It must be a whole multiple of the input cell size.`,
			defaultVal: 5.0,
			flagsets:   []*pflag.FlagSet{cfg.resampleCmd.Flags()},
		},
		{
			name: "target_grid",
			usage: `
              target_grid optionally specifies the output grid, either as the
              location of a grid definition file or as a table with the keys
              rows, cols, cellsize, xUL and yUL. If empty, the output grid
              covers fine_grid at output_resolution.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{cfg.resampleCmd.Flags()},
		},
		{
			name: "output_dir",
			usage: `
              output_dir specifies the directory the output files are written
              to, in a subdirectory named after each variable.`,
			shorthand:  "o",
			defaultVal: "output",
			flagsets:   []*pflag.FlagSet{cfg.resampleCmd.Flags()},
		},
		{
			name: "output_suffix",
			usage: `
              output_suffix specifies the suffix of output file names, which are
              in the format '<short_name>_<suffix>.nc'.`,
			defaultVal: "efas_rhine-meuse",
			flagsets:   []*pflag.FlagSet{cfg.resampleCmd.Flags()},
		},
		{
			name: "output_file",
			usage: `
              output_file optionally specifies the output file location,
              overriding output_dir and output_suffix.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{cfg.resampleCmd.Flags()},
		},
		{
			name: "start_date",
			usage: `
              start_date specifies the first day to resample, in the format
              YYYY-MM-DD.`,
			defaultVal: metregrid.DefaultStartDate,
			flagsets:   []*pflag.FlagSet{cfg.resampleCmd.Flags()},
		},
		{
			name: "end_date",
			usage: `
              end_date specifies the last day to resample (inclusive), in the
              format YYYY-MM-DD.`,
			defaultVal: metregrid.DefaultEndDate,
			flagsets:   []*pflag.FlagSet{cfg.resampleCmd.Flags()},
		},
		{
			name: "upload",
			usage: `
              upload optionally specifies a blob storage directory
              (gs://, s3:// or file://) that the output file is copied to
              after the run.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{cfg.resampleCmd.Flags()},
		},
		{
			name: "attribute",
			usage: `
              attribute specifies attributes to set in the output files, as
              a table of names and values. Names of the form 'variable:name'
              set variable attributes.`,
			defaultVal: map[string]string{},
			flagsets:   []*pflag.FlagSet{cfg.resampleCmd.Flags(), cfg.correctCmd.Flags()},
		},
		{
			name: "files",
			usage: `
              files specifies glob patterns of the files to correct.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{cfg.correctCmd.Flags()},
		},
		{
			name: "close_after",
			usage: `
              close_after specifies whether each file is closed after its
              attributes are changed.`,
			defaultVal: true,
			flagsets:   []*pflag.FlagSet{cfg.correctCmd.Flags()},
		},
	}

	// Set the prefix for configuration environment variables.
	cfg.SetEnvPrefix("METREGRID")
	cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case []string:
				set.StringSlice(option.name, option.defaultVal.([]string), option.usage)
			case bool:
				set.Bool(option.name, option.defaultVal.(bool), option.usage)
			case int:
				set.Int(option.name, option.defaultVal.(int), option.usage)
			case float64:
				set.Float64(option.name, option.defaultVal.(float64), option.usage)
			case map[string]string:
				b := bytes.NewBuffer(nil)
				e := json.NewEncoder(b)
				e.Encode(option.defaultVal)
				set.String(option.name, b.String(), option.usage)
			default:
				panic("invalid argument type")
			}
		}
		cfg.BindPFlag(option.name, option.flagsets[0].Lookup(option.name))
	}
	return cfg
}

// setConfig finds and reads in the configuration file, if there is one.
func (cfg *Cfg) setConfig() error {
	if cfgpath := cfg.GetString("config"); cfgpath != "" {
		cfg.SetConfigFile(cfgpath)
		if err := cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("metregrid: problem reading configuration file: %v", err)
		}
	}
	return nil
}

func (cfg *Cfg) setLogLevel() error {
	level, err := logrus.ParseLevel(cfg.GetString("log_level"))
	if err != nil {
		return fmt.Errorf("metregrid: %v", err)
	}
	cfg.log.SetLevel(level)
	return nil
}

// Log returns the logger used by the commands.
func (cfg *Cfg) Log() *logrus.Logger { return cfg.log }
