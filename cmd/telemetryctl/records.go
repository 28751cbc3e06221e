// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package main

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/telemetrysync/internal/models"
)

func newRecordsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "records",
		Aliases: []string{"record", "rec"},
		Short:   "Inspect and modify local records",
	}
	cmd.AddCommand(
		newRecordsListCmd(opts),
		newRecordsCountCmd(opts),
		newRecordsGetCmd(opts),
		newRecordsCreateCmd(opts),
		newRecordsDeleteCmd(opts),
		newRecordsRequeueCmd(opts),
	)
	return cmd
}

// filterFlags are the query flags shared by list and count.
type filterFlags struct {
	kinds  []string
	states []string
	source string
	from   string
	to     string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.kinds, "kind", nil, "record kinds")
	cmd.Flags().StringSliceVar(&f.states, "state", nil, "sync states (pending, in_progress, synced, failed)")
	cmd.Flags().StringVar(&f.source, "source", "", "source id")
	cmd.Flags().StringVar(&f.from, "from", "", "earliest event time (RFC3339)")
	cmd.Flags().StringVar(&f.to, "to", "", "latest event time (RFC3339)")
}

func (f *filterFlags) query() url.Values {
	q := url.Values{}
	if len(f.kinds) > 0 {
		q.Set("kind", strings.Join(f.kinds, ","))
	}
	if len(f.states) > 0 {
		q.Set("sync_state", strings.Join(f.states, ","))
	}
	if f.source != "" {
		q.Set("source_id", f.source)
	}
	if f.from != "" {
		q.Set("from", f.from)
	}
	if f.to != "" {
		q.Set("to", f.to)
	}
	return q
}

func newRecordsListCmd(opts *options) *cobra.Command {
	var (
		filter  filterFlags
		sortBy  string
		limit   int
		offset  int
		refresh bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			q := filter.query()
			q.Set("limit", strconv.Itoa(limit))
			q.Set("offset", strconv.Itoa(offset))
			if sortBy != "" {
				q.Set("sort", sortBy)
			}
			if refresh {
				q.Set("refresh", "true")
			}

			var page models.RecordsPage
			if err := c.do(cmd.Context(), http.MethodGet, "/records", q, nil, &page); err != nil {
				return err
			}
			if opts.json {
				return opts.print(page)
			}

			tw := tabwriter.NewWriter(opts.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSOURCE\tKIND\tVALUE\tTIMESTAMP\tSERVER ID")
			for _, r := range page.Records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.SourceID, r.Kind, formatValue(r.Value, r.Unit),
					r.Timestamp.Format(time.RFC3339), r.ServerIDValue())
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(opts.out, "\n%d of %d records\n", len(page.Records), page.Pagination.TotalCount)
			return nil
		},
	}
	filter.register(cmd)
	cmd.Flags().StringVar(&sortBy, "sort", "", "timestamp_asc, timestamp_desc, created_asc or created_desc")
	cmd.Flags().IntVar(&limit, "limit", 100, "page size (0 = all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "offset")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "merge remote records first")
	return cmd
}

func newRecordsCountCmd(opts *options) *cobra.Command {
	var filter filterFlags
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			var res models.CountResponse
			if err := c.do(cmd.Context(), http.MethodGet, "/records/count", filter.query(), nil, &res); err != nil {
				return err
			}
			if opts.json {
				return opts.print(res)
			}
			fmt.Fprintln(opts.out, res.Count)
			return nil
		},
	}
	filter.register(cmd)
	return cmd
}

func newRecordsGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a record and its sync status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			var rs models.RecordWithStatus
			q := url.Values{"status": {"true"}}
			if err := c.do(cmd.Context(), http.MethodGet, "/records/"+url.PathEscape(args[0]), q, nil, &rs); err != nil {
				return err
			}
			if opts.json {
				return opts.print(rs)
			}
			printRecord(opts, &rs)
			return nil
		},
	}
}

func newRecordsCreateCmd(opts *options) *cobra.Command {
	var (
		id     string
		source string
		kind   string
		value  float64
		fields map[string]string
		unit   string
		attrs  map[string]string
		at     string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Store a record locally and queue it for sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}

			ts := time.Now().UTC()
			if at != "" {
				if ts, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("--at: %w", err)
				}
			}

			v := models.ScalarValue(value)
			if len(fields) > 0 {
				parsed := make(map[string]float64, len(fields))
				for k, raw := range fields {
					f, err := strconv.ParseFloat(raw, 64)
					if err != nil {
						return fmt.Errorf("--field %s: %w", k, err)
					}
					parsed[k] = f
				}
				v = models.StructuredValue(parsed)
			}

			rec := models.NewRecord(source, kind, v, unit, ts)
			if id != "" {
				rec.ID = id
			}
			if len(attrs) > 0 {
				rec.Attributes = attrs
			}

			var created models.TelemetryRecord
			if err := c.do(cmd.Context(), http.MethodPost, "/records", nil, rec, &created); err != nil {
				return err
			}
			if opts.json {
				return opts.print(created)
			}
			fmt.Fprintf(opts.out, "Created %s\n", created.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "record id (generated when empty)")
	cmd.Flags().StringVar(&source, "source", "", "source id")
	cmd.Flags().StringVar(&kind, "kind", "", "record kind")
	cmd.Flags().Float64Var(&value, "value", 0, "scalar value")
	cmd.Flags().StringToStringVar(&fields, "field", nil, "structured value fields (name=number)")
	cmd.Flags().StringVar(&unit, "unit", "", "unit")
	cmd.Flags().StringToStringVar(&attrs, "attr", nil, "attributes (key=value)")
	cmd.Flags().StringVar(&at, "at", "", "event time (RFC3339, default now)")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("kind")
	cmd.MarkFlagsMutuallyExclusive("value", "field")
	return cmd
}

func newRecordsDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a record locally and remotely",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			if err := c.do(cmd.Context(), http.MethodDelete, "/records/"+url.PathEscape(args[0]), nil, nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(opts.out, "Deleted %s\n", args[0])
			return nil
		},
	}
}

func newRecordsRequeueCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <id>",
		Short: "Return a failed record to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			var rs models.RecordWithStatus
			path := "/records/" + url.PathEscape(args[0]) + "/requeue"
			if err := c.do(cmd.Context(), http.MethodPost, path, nil, nil, &rs); err != nil {
				return err
			}
			if opts.json {
				return opts.print(rs)
			}
			fmt.Fprintf(opts.out, "Requeued %s (%s)\n", args[0], rs.Status.State)
			return nil
		},
	}
}

func printRecord(opts *options, rs *models.RecordWithStatus) {
	r := rs.Record
	if r == nil {
		return
	}
	fmt.Fprintf(opts.out, "ID:          %s\n", r.ID)
	if sid := r.ServerIDValue(); sid != "" {
		fmt.Fprintf(opts.out, "Server ID:   %s\n", sid)
	}
	fmt.Fprintf(opts.out, "Source:      %s\n", r.SourceID)
	fmt.Fprintf(opts.out, "Kind:        %s\n", r.Kind)
	fmt.Fprintf(opts.out, "Value:       %s\n", formatValue(r.Value, r.Unit))
	fmt.Fprintf(opts.out, "Timestamp:   %s\n", r.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(opts.out, "Updated:     %s\n", r.UpdatedAt.Format(time.RFC3339))
	if len(r.Attributes) > 0 {
		keys := make([]string, 0, len(r.Attributes))
		for k := range r.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(opts.out, "Attributes:")
		for _, k := range keys {
			fmt.Fprintf(opts.out, "  %s=%s\n", k, r.Attributes[k])
		}
	}

	st := rs.Status
	fmt.Fprintf(opts.out, "Sync state:  %s (retries: %d)\n", st.State, st.RetryCount)
	if st.LastAttempt != nil {
		fmt.Fprintf(opts.out, "Last try:    %s\n", st.LastAttempt.Format(time.RFC3339))
	}
	if st.ErrorMessage != "" {
		fmt.Fprintf(opts.out, "Error:       %s\n", st.ErrorMessage)
	}
}

// formatValue renders a scalar as "21.5 C" and structured values as
// sorted name=value pairs.
func formatValue(v models.Value, unit string) string {
	if v.IsScalar() {
		s := strconv.FormatFloat(*v.Scalar, 'f', -1, 64)
		if unit != "" {
			s += " " + unit
		}
		return s
	}
	keys := make([]string, 0, len(v.Fields))
	for k := range v.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+strconv.FormatFloat(v.Fields[k], 'f', -1, 64))
	}
	s := strings.Join(parts, " ")
	if unit != "" {
		s += " (" + unit + ")"
	}
	return s
}
