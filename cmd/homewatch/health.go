package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/homewatch/internal/api"
	"github.com/alfredjeanlab/homewatch/internal/ui"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the health of the homewatch server",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := newHTTPClient().Health(cmd.Context())
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}

		if jsonOutput {
			printJSON(h)
		} else {
			fmt.Printf("Health:      %s\n", h.Status)
			fmt.Printf("Watcher:     %s\n", h.Watcher.State)
			if h.Watcher.LastError != "" {
				fmt.Printf("Last error:  %s\n", ui.RenderMuted(h.Watcher.LastError))
			}
			if h.Watcher.LastMotionAt != nil {
				fmt.Printf("Last motion: %s\n", h.Watcher.LastMotionAt.Local().Format("2006-01-02 15:04:05"))
			}
			fmt.Printf("Subscribers: %d\n", h.Subscribers)
		}

		if h.Status != api.StatusOK {
			return fmt.Errorf("unhealthy: %s", h.Status)
		}
		return nil
	},
}
