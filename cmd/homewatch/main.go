package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/homewatch/internal/client"
	"github.com/alfredjeanlab/homewatch/internal/ui"
)

var (
	httpURL    string
	grpcAddr   string
	token      string
	jsonOutput bool
)

func defaultHTTPURL() string {
	if s := os.Getenv("HOMEWATCH_HTTP_URL"); s != "" {
		return s
	}
	if st := loadStateOnce(); st.HTTPURL != "" {
		return st.HTTPURL
	}
	return "http://localhost:8000"
}

func defaultGRPCAddr() string {
	if s := os.Getenv("HOMEWATCH_GRPC_TARGET"); s != "" {
		return s
	}
	if st := loadStateOnce(); st.GRPCAddr != "" {
		return st.GRPCAddr
	}
	return "localhost:9090"
}

func defaultToken() string {
	if s := os.Getenv("HOMEWATCH_TOKEN"); s != "" {
		return s
	}
	return loadStateOnce().Token
}

var rootCmd = &cobra.Command{
	Use:           "homewatch <command>",
	Short:         "Home motion watcher server and CLI",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.SetColor(!jsonOutput && ui.ShouldUseColor())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&httpURL, "http-url", defaultHTTPURL(), "HTTP server URL")
	rootCmd.PersistentFlags().StringVar(&grpcAddr, "grpc-addr", defaultGRPCAddr(), "gRPC server address")
	rootCmd.PersistentFlags().StringVar(&token, "token", defaultToken(), "bearer token (default: saved by login)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "events", Title: "Events:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)
	cobra.EnableCommandSorting = false

	// Events
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(watchCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(loginCmd)
}

// newHTTPClient returns a REST client for the configured server.
func newHTTPClient() *client.HTTPClient {
	return client.NewHTTPClient(httpURL, token)
}

// newEventSource picks the transport for events and watch.
func newEventSource(transport string) (client.EventSource, error) {
	switch transport {
	case "http", "ws":
		return newHTTPClient(), nil
	case "grpc":
		c, err := client.NewGRPCClient(grpcAddr, token)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to server: %w", err)
		}
		return c, nil
	}
	return nil, fmt.Errorf("unknown transport %q (must be ws or grpc)", transport)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
