package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hesham156/sys/internal/config"
	"github.com/hesham156/sys/internal/daemon"
	"github.com/hesham156/sys/internal/identity"
	"github.com/hesham156/sys/pkg/models"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check config, store and members",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			out := cmd.OutOrStdout()

			var problems []string

			cfg, err := config.Load(home)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "- config: %s (db %s)\n", config.Path(home), cfg.DB.Driver)

			members, err := identity.LoadMembers(home)
			if err != nil {
				problems = append(problems, fmt.Sprintf("members: %v", err))
			}
			roles := map[models.Role]int{}
			for _, m := range members {
				roles[m.Role]++
			}
			_, _ = fmt.Fprintf(out, "- members: %d in %s\n", len(members), identity.MembersDir(home))
			for _, r := range models.Roles {
				if roles[r] == 0 {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: no %s member, tasks reaching that stage notify nobody\n", r)
				}
			}

			st, err := daemon.OpenStore(home, cfg.DB)
			if err != nil {
				problems = append(problems, fmt.Sprintf("store: %v", err))
			} else {
				counts, err := st.CountTasksByStatus(cmd.Context())
				_ = st.Close()
				if err != nil {
					problems = append(problems, fmt.Sprintf("store: %v", err))
				} else {
					var total int64
					for _, n := range counts {
						total += n
					}
					_, _ = fmt.Fprintf(out, "- store: ok (%d tasks)\n", total)
				}
			}

			if len(problems) > 0 {
				for _, p := range problems {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), p)
				}
				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(out, "ok")
			return nil
		},
	}
	return cmd
}
