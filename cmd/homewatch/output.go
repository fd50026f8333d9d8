package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/alfredjeanlab/homewatch/internal/model"
	"github.com/alfredjeanlab/homewatch/internal/ui"
)

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

const timeLayout = "2006-01-02 15:04:05"

// detectionSummary renders detections as "person (91%), dog (40%)".
func detectionSummary(dets []model.Detection) string {
	parts := make([]string, len(dets))
	for i, d := range dets {
		parts[i] = d.String()
	}
	return strings.Join(parts, ", ")
}

func printEventTable(w io.Writer, evs []*model.MotionEvent) {
	if len(evs) == 0 {
		fmt.Fprintln(w, "No motion events.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tSEVERITY\tSOURCE\tZONE\tMESSAGE")
	for _, ev := range evs {
		msg := ev.Message
		if len(ev.Detections) > 0 {
			msg += " [" + detectionSummary(ev.Detections) + "]"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			ev.ID,
			ev.Timestamp.Local().Format(timeLayout),
			ui.RenderSeverity(ev.Severity),
			ev.Source,
			ev.Zone,
			msg,
		)
	}
	tw.Flush()
}

// printEventLine prints one event for the watch feed.
func printEventLine(w io.Writer, ev *model.MotionEvent) {
	if jsonOutput {
		data, err := json.Marshal(ev)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
			return
		}
		fmt.Fprintln(w, string(data))
		return
	}
	line := fmt.Sprintf("%s  #%d  %s  %s", ui.RenderMuted(ev.Timestamp.Local().Format(timeLayout)),
		ev.ID, ui.RenderSeverity(ev.Severity), ev.Message)
	if ev.Zone != "" {
		line += "  " + ui.RenderAccent(ev.Zone)
	}
	if len(ev.Detections) > 0 {
		line += "  [" + detectionSummary(ev.Detections) + "]"
	}
	fmt.Fprintln(w, line)
}
