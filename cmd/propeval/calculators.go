// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/propeval/propeval/internal/calculator"
)

func newCalculatorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "calculators",
		Short: "List predeployed calculators",
		Long: `List the calculators a PREDEPLOYED script may name. The script body
is the calculator name.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tDESCRIPTION")
			for _, p := range calculator.SharedRegistry().List() {
				fmt.Fprintf(tw, "%s\t%s\n", p.Name, p.Description)
			}
			return tw.Flush()
		},
	}
}
