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
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/metregrid/tsfile"
)

// Stepper is called once for every timestep of a run.
type Stepper interface {
	Step(ctx context.Context, date time.Time, step int) error
}

// Run calls each stepper for every date of mt, in order. It stops at the
// first error, when ctx is canceled, or when the process receives SIGINT
// or SIGTERM. The files open in w are always flushed and closed before
// Run returns.
func Run(ctx context.Context, mt *ModelTime, w *tsfile.Writer, log logrus.FieldLogger, steppers ...Stepper) (err error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	go func() {
		select {
		case s := <-sig:
			log.WithField("signal", s).Warn("stopping")
			cancel()
		case <-ctx.Done():
		}
	}()

	defer func() {
		if cerr := w.CloseAll(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	n := mt.NumSteps()
	log.WithFields(logrus.Fields{
		"start": mt.Start().Format(DateFormat),
		"end":   mt.End().Format(DateFormat),
		"steps": n,
	}).Info("starting run")
	start := time.Now()
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("metregrid: run stopped at step %d: %v", i, err)
		}
		date := mt.Date(i)
		for _, s := range steppers {
			if err := s.Step(ctx, date, i); err != nil {
				return err
			}
		}
		if date.YearDay() == 1 || i == n-1 {
			log.WithFields(logrus.Fields{
				"date":    date.Format(DateFormat),
				"step":    i + 1,
				"of":      n,
				"elapsed": time.Since(start).Round(time.Second),
			}).Info("progress")
		}
	}
	return nil
}
