package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/parcl-data/parcl-crawler/internal/profile"
)

var profileJSON bool

var profileCmd = &cobra.Command{
	Use:   "profile <address-or-parcel-id>",
	Short: "Build a parcel risk profile from the ingested data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		db, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		p, err := profile.Get(ctx, db, args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if profileJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		}

		fmt.Fprintf(out, "\nParcel Risk Profile: %s\n", p.Query)
		fmt.Fprintf(out, "Matched: %s\n", p.MatchedAddress)
		fmt.Fprintf(out, "Zoning: %s", formatJSON(p.Zoning))

		fmt.Fprintf(out, "\nRisks (%d):\n", len(p.Risks))
		for _, r := range p.Risks {
			fmt.Fprintf(out, "  [%s] %s: %s\n", strings.ToUpper(r.Severity), r.Type, r.Label)
		}

		fmt.Fprintf(out, "\nPermits (%d):\n", len(p.Permits))
		for i, permit := range p.Permits {
			if i == 5 {
				break
			}
			valuation := 0.0
			if permit.Valuation != nil {
				valuation = *permit.Valuation
			}
			fmt.Fprintf(out, "  %s - %s ($%.0f)\n", permit.PermitNumber, permit.Type, valuation)
		}

		fmt.Fprintf(out, "\nFacts: %s", formatJSON(p.SupportingFacts))
		fmt.Fprintf(out, "Sources: %s\n", strings.Join(p.DataSources, ", "))
		if len(p.Warnings) > 0 {
			fmt.Fprintf(out, "\nWarnings: %s\n", strings.Join(p.Warnings, "; "))
		}
		return nil
	},
}

func formatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v\n", v)
	}
	return string(data) + "\n"
}

func init() {
	profileCmd.Flags().BoolVar(&profileJSON, "json", false, "emit JSON instead of the pretty report")
	rootCmd.AddCommand(profileCmd)
}
