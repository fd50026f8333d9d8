package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/homewatch/internal/ui"
)

var loginCmd = &cobra.Command{
	Use:     "login",
	Short:   "Log in and save the token for later commands",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		password := os.Getenv("HOMEWATCH_PASSWORD")
		if password == "" {
			p, err := ui.ReadPassword(fmt.Sprintf("Password for %s: ", username))
			if err != nil {
				return fmt.Errorf("reading password: %w", err)
			}
			password = p
		}

		resp, err := newHTTPClient().Login(cmd.Context(), username, password)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}

		st := loadStateOnce()
		st.HTTPURL = httpURL
		st.GRPCAddr = grpcAddr
		st.Username = resp.Username
		st.Token = resp.Token
		if err := saveState(st); err != nil {
			return fmt.Errorf("saving token: %w", err)
		}

		if jsonOutput {
			printJSON(resp)
			return nil
		}
		expires := time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
		fmt.Printf("Logged in as %s (token expires %s)\n",
			ui.RenderAccent(resp.Username), expires.Format("15:04:05"))
		return nil
	},
}

func init() {
	loginCmd.Flags().StringP("username", "u", "admin", "username")
}
