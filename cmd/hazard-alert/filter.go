package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/mr1hm/go-hazard-alerts/internal/config"
	"github.com/mr1hm/go-hazard-alerts/internal/hazard"
)

type filterResult struct {
	Count   int            `json:"count"`
	Skipped int            `json:"skipped"`
	Hazards []hazardOutput `json:"hazards"`
}

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Apply map filters to a saved hazard payload",
	Long: `Evaluates category, tier, date and radius filters against a saved payload.
Repeated --category/--tier values are applied as toggles, starting from "all".`,
	Example: `  hazard-alert filter --file hazards.json --category earthquake --tier resiko_bencana
  hazard-alert filter --file hazards.json --start 2025-02-01 --end 2025-02-14 --radius-km 5 --lat -6.9175 --lon 107.6191`,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		file, _ := f.GetString("file")

		q := hazard.Query{}
		q.Categories, _ = f.GetStringSlice("category")
		q.Tiers, _ = f.GetStringSlice("tier")
		q.Start, _ = f.GetString("start")
		q.End, _ = f.GetString("end")
		if f.Changed("radius-km") {
			r, _ := f.GetFloat64("radius-km")
			q.RadiusKm = &r
		}
		q.Lat, q.Lon = positionFlags(cmd)

		return runFilter(cmd.OutOrStdout(), file, q, cfg)
	},
}

func init() {
	f := filterCmd.Flags()
	f.String("file", "", "hazard payload: JSON record array or GeoJSON FeatureCollection")
	f.StringSlice("category", nil, `category to toggle, e.g. earthquake or "gempa bumi" (repeatable)`)
	f.StringSlice("tier", nil, "tier to toggle, e.g. resiko_bencana (repeatable)")
	f.String("start", "", "first day to include, YYYY-MM-DD in DATE_LOCATION")
	f.String("end", "", "last day to include, YYYY-MM-DD in DATE_LOCATION")
	f.Float64("radius-km", 0, "only keep hazards within this many km of --lat/--lon")
	f.Float64("lat", 0, "latitude of the origin for --radius-km")
	f.Float64("lon", 0, "longitude of the origin for --radius-km")
	_ = filterCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(filterCmd)
}

func runFilter(w io.Writer, file string, q hazard.Query, c *config.Config) error {
	origin, err := q.Origin()
	if err != nil {
		return err
	}
	spec, err := q.Spec(c.Engine.DateLocation, c.Engine.MaxSearchRadiusKm)
	if err != nil {
		return err
	}

	res, err := loadHazards(file, c.Engine.DateLocation)
	if err != nil {
		return err
	}

	matched := hazard.ApplyFilters(res.Records, spec, origin)
	return writeJSON(w, filterResult{
		Count:   len(matched),
		Skipped: res.Skipped,
		Hazards: toOutput(matched, origin),
	})
}
