package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/panel/internal/api"
	"github.com/joescharf/panel/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the review API server",
	Long: `Start an HTTP server exposing the review engine: start reviews,
poll status, stream progress over server-sent events, and scrape
Prometheus metrics at /metrics.

By default it listens on port 8484. Use --port to change it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		factory, err := engineFactory()
		if err != nil {
			return err
		}

		registry := session.NewRegistry()
		server := api.NewServer(registry, factory)

		addr := fmt.Sprintf(":%d", viper.GetInt("port"))
		ui.Info("review API listening on http://localhost%s", addr)
		return http.ListenAndServe(addr, server.Router())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8484, "port to listen on")
	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
}
