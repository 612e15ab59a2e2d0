package main

import (
	"net/http"

	"github.com/sr-shim/shimrepo/pkg/metrics"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the Prometheus metrics endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		log.Infow("serving metrics", "addr", addr)

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		return http.ListenAndServe(addr, mux)
	},
}

func init() {
	serveCmd.Flags().String("addr", ":9090", "address to serve /metrics on")
}
