package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/leasingborsen/lease-ingest/internal/identity"
	"github.com/leasingborsen/lease-ingest/internal/model"
)

var listingsCmd = &cobra.Command{
	Use:   "listings",
	Short: "Inspect stored listings",
}

var listingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a seller's stored listings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		seller, _ := cmd.Flags().GetString("seller")
		if seller == "" {
			return eris.New("--seller is required")
		}

		st, err := openStore(ctx, "listings")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		listings, err := st.ListingsBySeller(ctx, seller)
		if err != nil {
			return eris.Wrap(err, "listings list")
		}

		if len(listings) == 0 {
			fmt.Fprintln(os.Stderr, "No listings found.")
			return nil
		}

		formatListings(os.Stdout, listings)
		return nil
	},
}

var listingsShowCmd = &cobra.Command{
	Use:   "show <listing-id>",
	Short: "Show one listing with its pricing records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "listings")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		listing, err := st.GetListing(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "listings show")
		}
		if listing == nil {
			return eris.Errorf("listing %s not found", args[0])
		}

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close() //nolint:errcheck
		return enc.Encode(listing)
	},
}

func init() {
	listingsListCmd.Flags().String("seller", "", "seller ID")

	listingsCmd.AddCommand(listingsListCmd)
	listingsCmd.AddCommand(listingsShowCmd)
	rootCmd.AddCommand(listingsCmd)
}

// formatListings writes a tabular listing overview to w, including each
// listing's current identity key.
func formatListings(out io.Writer, listings []model.StoredListing) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tMAKE\tMODEL\tVARIANT\tIDENTITY\tPRICES")
	_, _ = fmt.Fprintln(w, "--\t----\t-----\t-------\t--------\t------")

	for _, l := range listings {
		v := l.Variant()
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			truncateID(l.ID),
			l.Make,
			l.Model,
			l.VariantName,
			identity.Key(v),
			len(l.PricingRecords),
		)
	}
	_ = w.Flush()
}
