// Package serve implements the serve subcommand running the proctoring
// service.
package serve

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/procwatch/proctor-go/internal/conf"
	"github.com/procwatch/proctor-go/internal/server"
)

// Command returns the serve subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the proctoring service",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(),
				syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return server.Run(ctx, settings)
		},
	}
}
