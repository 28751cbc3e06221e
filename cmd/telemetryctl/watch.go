// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

type subscribeMessage struct {
	Type  string   `json:"type"`
	Types []string `json:"types,omitempty"`
}

type eventMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func newWatchCmd(opts *options) *cobra.Command {
	var (
		types []string
		count int
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream live events from the daemon",
		Long: "Stream live events from the daemon until interrupted.\n" +
			"Types: record_updated, record_deleted, sync_status, sync_completed, pending_count.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			conn, err := c.dialEvents(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			if len(types) > 0 {
				if err := conn.WriteJSON(subscribeMessage{Type: "subscribe", Types: types}); err != nil {
					return fmt.Errorf("subscribe: %w", err)
				}
			}

			// Closing the connection unblocks ReadMessage on cancel.
			stop := context.AfterFunc(ctx, func() {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				_ = conn.Close()
			})
			defer stop()

			seen := 0
			for count <= 0 || seen < count {
				_, raw, err := conn.ReadMessage()
				if err != nil {
					if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
						return nil
					}
					return fmt.Errorf("read event: %w", err)
				}
				var msg eventMessage
				if err := json.Unmarshal(raw, &msg); err != nil {
					return fmt.Errorf("decode event: %w", err)
				}
				if msg.Type == "pong" {
					continue
				}
				seen++
				if err := printEvent(opts, msg); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&types, "types", nil, "only these event types")
	cmd.Flags().IntVar(&count, "count", 0, "exit after this many events (0 = until interrupted)")
	return cmd
}

func printEvent(opts *options, msg eventMessage) error {
	if opts.json {
		_, err := fmt.Fprintln(opts.out, string(encodeEvent(msg)))
		return err
	}
	_, err := fmt.Fprintf(opts.out, "%s  %-15s %s\n", time.Now().Format("15:04:05"), msg.Type, msg.Data)
	return err
}

func encodeEvent(msg eventMessage) []byte {
	raw, err := json.Marshal(msg)
	if err != nil {
		return []byte(fmt.Sprintf(`{"type":%q}`, msg.Type))
	}
	return raw
}
