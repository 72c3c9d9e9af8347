package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"busbeacon/internal/geo"
	"busbeacon/internal/proximity"
)

func NewDistanceCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:                "distance LAT1 LNG1 LAT2 LNG2",
		Short:              "Print the great-circle distance and walking time between two points",
		Args:               cobra.ExactArgs(4),
		DisableFlagParsing: true, // western and southern coordinates start with '-'
		RunE: func(cmd *cobra.Command, args []string) error {
			var v [4]float64
			for i, a := range args {
				f, err := strconv.ParseFloat(a, 64)
				if err != nil {
					return fmt.Errorf("argument %d: invalid number %q", i+1, a)
				}
				v[i] = f
			}
			from := geo.Coordinate{Lat: v[0], Lng: v[1]}
			to := geo.Coordinate{Lat: v[2], Lng: v[3]}
			for _, c := range []geo.Coordinate{from, to} {
				if !c.Valid() {
					return fmt.Errorf("coordinate out of range: %v,%v", c.Lat, c.Lng)
				}
			}
			km := geo.DistanceKm(from, to)
			within := "no"
			if km <= proximity.AlertRadiusKm {
				within = "yes"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "distance: %.3f km\n", km)
			fmt.Fprintf(out, "walk: ~%d min\n", geo.EtaMinutes(km))
			fmt.Fprintf(out, "within alert radius: %s\n", within)
			return nil
		},
	}

	return cmd
}
