package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hesham156/sys/internal/config"
)

func NewRootCmd(version string) *cobra.Command {
	var homeOverride string
	var as string
	var logLevel string

	cmd := &cobra.Command{
		Use:           "printflow",
		Short:         "printflow: print-shop task workflow server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			home, err := config.ResolveHome(homeOverride)
			if err != nil {
				return err
			}
			ctx := config.WithHome(cmd.Context(), home)
			if as == "" {
				as = os.Getenv("PRINTFLOW_AS")
			}
			log, err := newLogger(cmd.ErrOrStderr(), logLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(log)
			cmd.SetContext(withSession(ctx, session{actor: as, quiet: logLevel == ""}))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&homeOverride, "home", "", "Override printflow home directory (default: ~/.printflow, env: PRINTFLOW_HOME)")
	cmd.PersistentFlags().StringVar(&as, "as", "", "Act as this user id (env: PRINTFLOW_AS)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (default info; task commands only log warnings)")

	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStartCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newStatusCmd())

	cmd.AddCommand(newUserCmd())
	cmd.AddCommand(newTaskCmd())
	cmd.AddCommand(newNotificationsCmd())
	cmd.AddCommand(newApikeyCmd())

	// Hidden internal subcommand used by `printflow start` for background mode.
	cmd.AddCommand(newDaemonCmd())

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetVersionTemplate("{{.Version}}\n")
	if version != "" {
		cmd.Version = version
	} else {
		cmd.Version = "dev"
	}

	return cmd
}
