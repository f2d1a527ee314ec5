// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/propeval/propeval/internal/property"
	"github.com/propeval/propeval/internal/store"
)

func newEnqueueCmd(deps *Deps) *cobra.Command {
	var selection selectorFlags

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue an evaluation of the selected entities",
		Long: `Record an evaluation request in the database queue. A running
"propeval worker" claims it and evaluates the selected entities.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sel, err := selection.selector()
			if err != nil {
				return err
			}
			return withBackend(cmd, deps, func(ctx context.Context, b *Backend) error {
				id, err := b.Queue.Enqueue(ctx, sel)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), id.String())
				return err
			})
		},
	}
	selection.register(cmd.Flags())
	return cmd
}

// requestView is the JSON form of a queued request.
type requestView struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Kind      string    `json:"kind,omitempty"`
	Type      string    `json:"type,omitempty"`
	Code      string    `json:"code,omitempty"`
	Entities  []string  `json:"entities,omitempty"`
	Attempts  int       `json:"attempts"`
	Evaluated int       `json:"evaluated"`
	Failed    int       `json:"failed"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func viewRequest(req *store.Request) requestView {
	v := requestView{
		ID:        req.ID.String(),
		Status:    string(req.Status),
		Kind:      string(req.Selector.Kind),
		Type:      req.Selector.TypeCode,
		Code:      req.Selector.CodePattern,
		Attempts:  req.Attempts,
		Evaluated: req.Evaluated,
		Failed:    req.Failed,
		LastError: req.LastError,
		CreatedAt: req.CreatedAt,
		UpdatedAt: req.UpdatedAt,
	}
	for _, id := range req.Selector.IDs {
		v.Entities = append(v.Entities, id.String())
	}
	return v
}

func newRequestCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "request ID",
		Short: "Show the state of a queued evaluation request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := property.ParseID(args[0])
			if err != nil {
				return err
			}
			return withBackend(cmd, deps, func(ctx context.Context, b *Backend) error {
				req, err := b.Queue.Get(ctx, id)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(viewRequest(req)); err != nil {
					return oops.With("operation", "encode request").Wrap(err)
				}
				return nil
			})
		},
	}
}

// withBackend connects to the configured database, runs fn and closes
// the connection.
func withBackend(cmd *cobra.Command, deps *Deps, fn func(context.Context, *Backend) error) error {
	cfg, _, err := setup(cmd)
	if err != nil {
		return err
	}
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}
	ctx := cmd.Context()
	b, err := deps.BackendFactory(ctx, cfg.Database.URL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer b.Close()
	return fn(ctx, b)
}
