package main

import (
	"context"
	"fmt"

	"github.com/chatstream/chatstream/internal/app"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var tailLogFile string

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow the stream in a terminal UI",
	Long:  "Connect to the stream server and show connection state, events and the latest message. Logs go to a rotated file so they do not garble the screen.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Log.File = tailLogFile
		log := newLogger(cfg)
		defer log.Sync()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		serveMetrics(ctx, cfg.Metrics.Addr, log)

		bridge := app.NewBridge()
		client, err := newClient(cfg, bridge, log)
		if err != nil {
			return err
		}

		p := tea.NewProgram(app.New(client, bridge), tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("tui: %w", err)
		}
		client.Disconnect()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tailCmd)
	tailCmd.Flags().StringVar(&tailLogFile, "log-file", "chatstream-tail.log", "Log file for the terminal UI")
}
