package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/homewatch/internal/api"
	"github.com/alfredjeanlab/homewatch/internal/model"
)

var eventsCmd = &cobra.Command{
	Use:     "events",
	Short:   "List recent motion events",
	GroupID: "events",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := eventFilterFromFlags(cmd)
		if err != nil {
			return err
		}
		transport, _ := cmd.Flags().GetString("transport")
		src, err := newEventSource(transport)
		if err != nil {
			return err
		}
		defer src.Close()

		evs, err := src.ListEvents(cmd.Context(), f)
		if err != nil {
			return fmt.Errorf("listing events: %w", err)
		}
		if jsonOutput {
			printJSON(evs)
			return nil
		}
		printEventTable(os.Stdout, evs)
		return nil
	},
}

func eventFilterFromFlags(cmd *cobra.Command) (model.EventFilter, error) {
	source, _ := cmd.Flags().GetString("source")
	severity, _ := cmd.Flags().GetString("severity")
	zone, _ := cmd.Flags().GetString("zone")
	sinceID, _ := cmd.Flags().GetInt64("since-id")
	limit, _ := cmd.Flags().GetInt("limit")

	f := model.EventFilter{
		Source:   source,
		Severity: model.Severity(severity),
		Zone:     zone,
		SinceID:  sinceID,
		Limit:    limit,
	}
	if f.Severity != "" && !f.Severity.IsValid() {
		return f, fmt.Errorf("invalid severity %q (must be low, medium or high)", severity)
	}
	if f.Limit < 0 {
		return f, fmt.Errorf("--limit must not be negative")
	}
	return f, nil
}

var simulateCmd = &cobra.Command{
	Use:     "simulate",
	Short:   "Raise a simulated motion event",
	GroupID: "events",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")
		severity, _ := cmd.Flags().GetString("severity")
		zone, _ := cmd.Flags().GetString("zone")
		message, _ := cmd.Flags().GetString("message")

		ev, err := newHTTPClient().Simulate(cmd.Context(), api.SimulateRequest{
			Source:   source,
			Severity: model.Severity(severity),
			Zone:     zone,
			Message:  message,
		})
		if err != nil {
			return fmt.Errorf("simulating event: %w", err)
		}
		if jsonOutput {
			printJSON(ev)
			return nil
		}
		printEventLine(os.Stdout, ev)
		return nil
	},
}

func init() {
	eventsCmd.Flags().String("source", "", "filter by source")
	eventsCmd.Flags().String("severity", "", "filter by severity (low, medium, high)")
	eventsCmd.Flags().String("zone", "", "filter by zone")
	eventsCmd.Flags().Int64("since-id", 0, "only events with a larger ID")
	eventsCmd.Flags().IntP("limit", "n", 20, "most recent N events (0 = all)")
	eventsCmd.Flags().String("transport", "http", "transport (http or grpc)")

	simulateCmd.Flags().String("source", "", "event source (default: random)")
	simulateCmd.Flags().String("severity", "", "severity (default: random)")
	simulateCmd.Flags().String("zone", "", "zone (default: random)")
	simulateCmd.Flags().StringP("message", "m", "", "message")
}
