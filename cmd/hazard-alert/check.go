package main

import (
	"io"
	"math"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/mr1hm/go-hazard-alerts/internal/config"
	"github.com/mr1hm/go-hazard-alerts/internal/hazard"
)

type checkOptions struct {
	File    string
	Lat     *float64
	Lon     *float64
	RadiusM *float64 // nil means ALERT_RADIUS_METERS
}

type checkResult struct {
	Nearby  bool           `json:"nearby"`
	Count   int            `json:"count"`
	RadiusM float64        `json:"radius_m"`
	Skipped int            `json:"skipped"`
	Hazards []hazardOutput `json:"hazards"`
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check a saved hazard payload for hazards near a position",
	Example: `  hazard-alert check --file hazards.json --lat -6.9175 --lon 107.6191
  hazard-alert check --file hazards.geojson --lat -6.9175 --lon 107.6191 --radius-m 1000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		opts := checkOptions{}
		opts.File, _ = f.GetString("file")
		if f.Changed("radius-m") {
			r, _ := f.GetFloat64("radius-m")
			opts.RadiusM = &r
		}
		opts.Lat, opts.Lon = positionFlags(cmd)

		return runCheck(cmd.OutOrStdout(), opts, cfg)
	},
}

func init() {
	f := checkCmd.Flags()
	f.String("file", "", "hazard payload: JSON record array or GeoJSON FeatureCollection")
	f.Float64("lat", 0, "latitude of the position to check")
	f.Float64("lon", 0, "longitude of the position to check")
	f.Float64("radius-m", 0, "alert radius in meters (default ALERT_RADIUS_METERS)")
	_ = checkCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(checkCmd)
}

// positionFlags returns --lat and --lon only when the user set them.
func positionFlags(cmd *cobra.Command) (*float64, *float64) {
	var lat, lon *float64
	if cmd.Flags().Changed("lat") {
		v, _ := cmd.Flags().GetFloat64("lat")
		lat = &v
	}
	if cmd.Flags().Changed("lon") {
		v, _ := cmd.Flags().GetFloat64("lon")
		lon = &v
	}
	return lat, lon
}

func runCheck(w io.Writer, opts checkOptions, c *config.Config) error {
	radius := c.Engine.AlertRadiusMeters
	if opts.RadiusM != nil {
		radius = *opts.RadiusM
		if radius < 0 || math.IsNaN(radius) || math.IsInf(radius, 0) {
			return eris.Wrapf(hazard.ErrInvalidRadius, "radius-m %v", radius)
		}
	}

	origin, err := hazard.Query{Lat: opts.Lat, Lon: opts.Lon}.Origin()
	if err != nil {
		return err
	}

	res, err := loadHazards(opts.File, c.Engine.DateLocation)
	if err != nil {
		return err
	}

	report := hazard.Assess(origin, res.Records, radius)
	nearby := report.Hazards
	if origin != nil {
		nearby = hazard.SortByDistance(*origin, nearby)
	}

	return writeJSON(w, checkResult{
		Nearby:  report.Present,
		Count:   report.Count,
		RadiusM: radius,
		Skipped: res.Skipped,
		Hazards: toOutput(nearby, origin),
	})
}
