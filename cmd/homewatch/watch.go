package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/homewatch/internal/events"
	"github.com/alfredjeanlab/homewatch/internal/model"
	"github.com/alfredjeanlab/homewatch/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Follow motion events live",
	GroupID: "events",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		transport, _ := cmd.Flags().GetString("transport")
		since, _ := cmd.Flags().GetInt64("since")
		natsURL, _ := cmd.Flags().GetString("nats")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		if natsURL != "" {
			return watchNATS(ctx, natsURL)
		}

		src, err := newEventSource(transport)
		if err != nil {
			return err
		}
		defer src.Close()

		if !jsonOutput {
			fmt.Fprintln(os.Stderr, ui.RenderMuted(fmt.Sprintf("Watching motion events over %s (Ctrl-C to stop)", transport)))
		}
		err = src.StreamEvents(ctx, since, func(ev *model.MotionEvent) error {
			printEventLine(os.Stdout, ev)
			return nil
		})
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

// watchNATS follows the events mirror directly, including watcher state
// changes, without going through the server.
func watchNATS(ctx context.Context, natsURL string) error {
	sub, err := events.NewNATSSubscriber(natsURL,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats: disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Printf("nats: reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer sub.Close()

	ch, cancel, err := sub.Subscribe(events.TopicAll)
	if err != nil {
		return fmt.Errorf("subscribing to events: %w", err)
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			printNATSMessage(msg)
		}
	}
}

func printNATSMessage(msg events.Message) {
	if jsonOutput {
		fmt.Println(string(msg.Data))
		return
	}
	switch msg.Topic {
	case events.TopicWatcherState:
		var st events.WatcherStateChanged
		if err := json.Unmarshal(msg.Data, &st); err != nil {
			fmt.Fprintf(os.Stderr, "Error decoding %s: %v\n", msg.Topic, err)
			return
		}
		line := fmt.Sprintf("watcher %s -> %s", st.From, st.To)
		if st.Error != "" {
			line += ": " + st.Error
		}
		fmt.Println(ui.RenderMuted(line))
	default:
		var ev model.MotionEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			fmt.Fprintf(os.Stderr, "Error decoding %s: %v\n", msg.Topic, err)
			return
		}
		printEventLine(os.Stdout, &ev)
	}
}

func init() {
	watchCmd.Flags().String("transport", "ws", "transport (ws or grpc)")
	watchCmd.Flags().Int64("since", -1, "replay logged events after this ID first (-1 = live only)")
	watchCmd.Flags().String("nats", os.Getenv("HOMEWATCH_NATS_URL"), "follow the NATS events mirror at this URL instead")
}
