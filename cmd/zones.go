package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/prospect-crawler/internal/prospect"
)

func newZonesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "zones",
		Short: "Manages the zone registry",
	}
	cmd.AddCommand(newZonesSeedCmd())
	cmd.AddCommand(newZonesListCmd())
	return cmd
}

type seedOptions struct {
	source     string
	categories []string
	locations  []string
	priority   int
}

func newZonesSeedCmd() *cobra.Command {
	var opts seedOptions
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Creates one zone per category and location for a source",
		Example: `  prospector zones seed --source maps --category plumber --category roofer \
    --location "Austin, TX" --location "Dallas, TX"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if _, err := a.Sources.Get(opts.source); err != nil {
				return fmt.Errorf("seed %q: %w", opts.source, err)
			}
			zones, err := seedZones(cmd.Context(), a.Zones, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d zones\n", len(zones))
			return writeZones(cmd.OutOrStdout(), zones)
		},
	}
	cmd.Flags().StringVar(&opts.source, "source", "", "source adapter name")
	cmd.Flags().StringSliceVar(&opts.categories, "category", nil, "business category (repeatable)")
	cmd.Flags().StringArrayVar(&opts.locations, "location", nil, "location name (repeatable)")
	cmd.Flags().IntVar(&opts.priority, "priority", 100, "initial priority score")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("location")
	return cmd
}

// seedZones creates the category x location product. Existing zones are
// returned as stored.
func seedZones(ctx context.Context, store prospect.ZoneStore, opts seedOptions) ([]prospect.Zone, error) {
	if opts.priority < 0 {
		return nil, errors.New("priority must not be negative")
	}
	var out []prospect.Zone
	for _, category := range opts.categories {
		category = strings.TrimSpace(category)
		if category == "" {
			continue
		}
		for _, location := range opts.locations {
			location = strings.TrimSpace(location)
			if location == "" {
				continue
			}
			z, err := store.Create(ctx, prospect.Zone{
				Source:        opts.source,
				Category:      category,
				LocationName:  location,
				PriorityScore: opts.priority,
			})
			if err != nil {
				return out, fmt.Errorf("create zone %s/%s: %w", category, location, err)
			}
			out = append(out, z)
		}
	}
	return out, nil
}

func newZonesListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Lists zones",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			zones, err := a.Zones.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list zones: %w", err)
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(zones)
			}
			return writeZones(cmd.OutOrStdout(), zones)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func writeZones(w io.Writer, zones []prospect.Zone) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSOURCE\tCATEGORY\tLOCATION\tPRIORITY\tLOCKED\tRUNS\tLEADS")
	for _, z := range zones {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%t\t%d\t%d\n",
			z.ID, z.Source, z.Category, z.LocationName, z.PriorityScore, z.IsLocked, z.TimesProcessed, z.TotalLeadsFound)
	}
	return tw.Flush()
}
