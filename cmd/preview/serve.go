package main

import (
	"context"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

// go run ./cmd/preview serve --config configs/config.yaml
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the websocket preview server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		r, _, logger, err := setup(ctx, true)
		if err != nil {
			return err
		}

		if err := r.Run(ctx); err != nil {
			logger.Error("Service error", "error", err)
			return err
		}
		return nil
	},
}
