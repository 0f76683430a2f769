package cli

import (
	"github.com/spf13/cobra"

	"github.com/hesham156/sys/internal/config"
	"github.com/hesham156/sys/internal/daemon"
)

func newDaemonCmd() *cobra.Command {
	var (
		port      int
		dev       bool
		pprofAddr string
	)

	cmd := &cobra.Command{
		Use:    "daemon",
		Short:  "Internal: run daemon process",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			return daemon.StartForeground(cmd.Context(), daemon.StartOptions{
				Home:      home,
				Port:      port,
				Dev:       dev,
				PprofAddr: pprofAddr,
			})
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "Port for the HTTP API (default from config.yaml)")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable dev mode")
	cmd.Flags().StringVar(&pprofAddr, "pprof", "", "Enable pprof on address (e.g. 127.0.0.1:6060)")

	return cmd
}
