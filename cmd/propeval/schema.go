// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package main

import (
	"fmt"
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/propeval/propeval/internal/fixture"
)

func newSchemaCmd() *cobra.Command {
	var validate string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the fixture JSON schema or validate a fixture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if validate != "" {
				data, err := os.ReadFile(validate)
				if err != nil {
					return oops.Code("FIXTURE_READ_FAILED").With("path", validate).Wrap(err)
				}
				if err := fixture.ValidateSchema(data); err != nil {
					return err
				}
				cmd.Printf("%s: valid\n", validate)
				return nil
			}

			data, err := fixture.GenerateSchema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
	cmd.Flags().StringVar(&validate, "validate", "", "validate this fixture file instead of printing the schema")
	return cmd
}
