package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/c360/twinbridge/twinstore"
)

func newTwinsCommand(cli *CLIConfig) *cobra.Command {
	var (
		filter string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "twins",
		Short: "List the grid twins of the configured namespace.",
		Long: `Lists the twins stored under the configured namespace with a summary of
their crowd, emergency, health and alert features. --filter takes a twin store
RQL expression, e.g. 'eq(attributes/zoneType,"entrance")'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateFlags(cli); err != nil {
				return fmt.Errorf("invalid flags: %w", err)
			}
			cfg, err := loadConfig(cli.ConfigPath)
			if err != nil {
				return err
			}
			logger := setupLogger(cmd.ErrOrStderr(), cli.LogLevel, cli.LogFormat)

			storeCfg, err := storeConfig(cfg.TwinStore)
			if err != nil {
				return err
			}
			store, err := twinstore.NewClient(storeCfg, logger, nil)
			if err != nil {
				return fmt.Errorf("create twin store client: %w", err)
			}

			twins, err := store.SearchThings(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("list twins: %w", err)
			}
			slices.SortFunc(twins, func(a, b twinstore.Twin) int {
				return strings.Compare(a.ThingID, b.ThingID)
			})

			if asJSON {
				return writeTwinsJSON(cmd.OutOrStdout(), twins)
			}
			return writeTwinsTable(cmd.OutOrStdout(), twins)
		},
	}

	cmd.Flags().StringVar(&filter, "filter", "", "Twin store search filter")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print full twin documents as JSON")
	return cmd
}

func writeTwinsJSON(w io.Writer, twins []twinstore.Twin) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if twins == nil {
		twins = []twinstore.Twin{}
	}
	return enc.Encode(twins)
}

func writeTwinsTable(w io.Writer, twins []twinstore.Twin) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "THING ID\tGRID\tPEOPLE\tEMERGENCY\tHEALTH\tALERTS\tLAST UPDATE")
	for _, twin := range twins {
		grid, _ := twinstore.GridID(twin.ThingID)
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			twin.ThingID,
			orDash(grid),
			property(twin, twinstore.FeatureCrowdMonitoring, "peopleCount"),
			property(twin, twinstore.FeatureEmergencyDetection, "status"),
			property(twin, twinstore.FeatureDeviceHealth, "healthScore"),
			property(twin, twinstore.FeatureAlerts, "alertCount"),
			orDash(fmt.Sprint(twin.Attributes["lastUpdate"])),
		)
	}
	return tw.Flush()
}

// property renders one feature property, "-" when the feature has not been
// observed.
func property(twin twinstore.Twin, featureID, key string) string {
	feature, ok := twin.Features[featureID]
	if !ok {
		return "-"
	}
	v, ok := feature.Properties[key]
	if !ok || v == nil {
		return "-"
	}
	return fmt.Sprint(v)
}

func orDash(s string) string {
	if s == "" || s == "<nil>" {
		return "-"
	}
	return s
}
