package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/prospect-crawler/internal/analyzer"
	"github.com/JakeFAU/prospect-crawler/internal/prospect"
)

func newAnalyzeCmd() *cobra.Command {
	var withDeductions bool
	cmd := &cobra.Command{
		Use:   "analyze URL [URL...]",
		Short: "Analyzes websites and prints their assessments",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			for _, raw := range args {
				assessment, err := a.Analyzer.Analyze(cmd.Context(), raw)
				if err != nil {
					return fmt.Errorf("analyze %s: %w", raw, err)
				}
				if !withDeductions {
					if err := enc.Encode(assessment); err != nil {
						return err
					}
					continue
				}
				out := struct {
					Assessment prospect.SiteAssessment `json:"assessment"`
					Deductions []analyzer.Deduction    `json:"deductions"`
				}{assessment, analyzer.Deductions(assessment)}
				if err := enc.Encode(out); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withDeductions, "deductions", false, "include the triggered score deductions")
	return cmd
}
