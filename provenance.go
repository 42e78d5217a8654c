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

import "fmt"

const (
	efasInstitution = "European Commission - JRC and Department of Physical Geography, Utrecht University"
	efasSource      = "5km Gridded Meteo Database (C) European Commission - JRDC, 2014"
	efasHistory     = "The data were provided by Ad de Roo (ad.de-roo@jrc.ec.europa.eu) on 19 November 2014 " +
		"and then converted by Edwin H. Sutanudjaja (E.H.Sutanudjaja@uu.nl) to netcdf. "

	// EFASReferences is the reference list of the EFAS-Meteo data set.
	EFASReferences = "Ntegeka et al., 2013. EFAS-Meteo: A European daily high-resolution gridded meteorological data set. " +
		"JRC Technical Reports. doi: 10.2788/51262 ; " +
		"Burek et al., 2013. Evaporation Pre-Processor for the LISFLOOD Water Balance and Flood Simulation Model. " +
		"JRC Technical Reports. doi: 10.2788/26000 "

	efasComment = "Please use this dataset only for Hyper-Hydro test bed experiments. " +
		"For using it and publishing it, please acknowledge its source: " + efasSource +
		" and its reference: Ntegeka et al., 2013 (doi: 10.2788/51262). " +
		"The original data provided by JRC are in European ETRS projection, 5km grid; " +
		"http://en.wikipedia.org/wiki/European_grid. "
)

// ResolutionSentence describes the resampling history of a data set with the
// given input and output resolutions, in arc minutes.
func ResolutionSentence(inputArcMin, outputArcMin float64) string {
	return fmt.Sprintf("The dataset was first resampled to %.1f arc minute resolution "+
		"and then aggregated to %.1f arc minute resolution.", inputArcMin, outputArcMin)
}

// GlobalAttributes returns the provenance attributes of an output file
// holding variable v that was aggregated from inputArcMin to outputArcMin.
func GlobalAttributes(inputArcMin, outputArcMin float64, v VariableMetadata) map[string]string {
	res := ResolutionSentence(inputArcMin, outputArcMin)
	return map[string]string{
		"institution": efasInstitution,
		"title":       fmt.Sprintf("EFAS-Meteo 5km for Rhine-Meuse - resampled to %.1f arc minute resolution. ", outputArcMin),
		"source":      efasSource,
		"history":     efasHistory + res,
		"references":  EFASReferences,
		"comment":     efasComment + res,
		"description": v.Description,
	}
}
