// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/samber/oops"

	"github.com/propeval/propeval/internal/evaluator"
)

// Report formats.
const (
	outputText = "text"
	outputJSON = "json"
)

func validateOutput(format string) error {
	if format != outputText && format != outputJSON {
		return oops.Code("CONFIG_INVALID").With("output", format).
			Errorf("output must be 'text' or 'json', got %q", format)
	}
	return nil
}

// BatchSummary is the machine-readable form of an evaluation report.
type BatchSummary struct {
	RunID          string          `json:"run_id"`
	Evaluated      int             `json:"evaluated"`
	Failed         int             `json:"failed"`
	PropertyErrors int             `json:"property_errors"`
	DurationMS     int64           `json:"duration_ms"`
	Entities       []EntitySummary `json:"entities"`
	Failures       []FailureEntry  `json:"failures,omitempty"`
}

// EntitySummary lists the results of one entity.
type EntitySummary struct {
	ID      string          `json:"id"`
	Code    string          `json:"code"`
	Results []ResultSummary `json:"results"`
}

// ResultSummary is one evaluated property.
type ResultSummary struct {
	Property string `json:"property"`
	Result   string `json:"result"`
	Value    string `json:"value,omitempty"`
	Message  string `json:"message,omitempty"`
}

// FailureEntry is an entity that could not be evaluated.
type FailureEntry struct {
	ID    string `json:"id"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

func summarize(report *evaluator.BatchReport) BatchSummary {
	s := BatchSummary{
		RunID:          report.RunID.String(),
		Evaluated:      report.Evaluated(),
		Failed:         len(report.Failures),
		PropertyErrors: report.PropertyErrors(),
		DurationMS:     report.Duration.Milliseconds(),
		Entities:       make([]EntitySummary, 0, len(report.Entities)),
	}
	for _, e := range report.Entities {
		es := EntitySummary{ID: e.EntityID.String(), Code: e.Code, Results: make([]ResultSummary, 0, len(e.Results))}
		for _, r := range e.Results {
			rs := ResultSummary{Property: r.Code, Result: r.Kind.String()}
			if r.Failed() {
				rs.Message = r.Message
			} else {
				rs.Value = r.Legacy()
			}
			es.Results = append(es.Results, rs)
		}
		s.Entities = append(s.Entities, es)
	}
	for _, f := range report.Failures {
		s.Failures = append(s.Failures, FailureEntry{ID: f.EntityID.String(), Code: f.Code, Error: f.Err.Error()})
	}
	return s
}

func writeReport(w io.Writer, format string, report *evaluator.BatchReport) error {
	if report == nil {
		return nil
	}
	s := summarize(report)
	if format == outputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(s); err != nil {
			return oops.With("operation", "encode report").Wrap(err)
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTITY\tPROPERTY\tRESULT\tVALUE")
	for _, e := range s.Entities {
		for _, r := range e.Results {
			value := r.Value
			if r.Message != "" {
				value = r.Message
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Code, r.Property, r.Result, value)
		}
	}
	for _, f := range s.Failures {
		fmt.Fprintf(tw, "%s\t-\tfailed\t%s\n", f.Code, f.Error)
	}
	if err := tw.Flush(); err != nil {
		return oops.With("operation", "write report").Wrap(err)
	}
	_, err := fmt.Fprintf(w, "\nrun %s: %d evaluated, %d failed, %d property errors in %dms\n",
		s.RunID, s.Evaluated, s.Failed, s.PropertyErrors, s.DurationMS)
	return err
}
