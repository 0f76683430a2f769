package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hesham156/sys/internal/config"
	"github.com/hesham156/sys/internal/daemon"
)

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the background printflow daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stopped, err := daemon.Stop(cmd.Context(), config.MustHomeFrom(cmd.Context()))
			if err != nil {
				return err
			}
			if stopped {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Stopped")
			} else {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "printflow is not running")
			}
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the printflow daemon is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			st, err := daemon.Status(cmd.Context(), home)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !st.Running {
				_, _ = fmt.Fprintf(out, "printflow not running (home %s)\n", home)
				return nil
			}
			_, _ = fmt.Fprintf(out, "printflow running (pid %d, addr %s)\n", st.PID, st.Addr)
			_, _ = fmt.Fprintf(out, "Log: %s\n", daemon.LogPath(home))
			return nil
		},
	}
}
