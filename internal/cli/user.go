package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hesham156/sys/internal/config"
	"github.com/hesham156/sys/internal/daemon"
	"github.com/hesham156/sys/internal/identity"
	"github.com/hesham156/sys/pkg/models"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage shop members",
	}
	cmd.AddCommand(newUserAddCmd())
	cmd.AddCommand(newUserListCmd())
	return cmd
}

func newUserAddCmd() *cobra.Command {
	var (
		role     string
		name     string
		email    string
		fromGit  bool
		inactive bool
	)
	cmd := &cobra.Command{
		Use:   "add [uid]",
		Short: "Write a member file and load it into the store",
		Long:  "Members live in <home>/members/<uid>.yaml. With --from-git the name and email come from git config, and the uid defaults to the email's local part.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := models.ParseRole(role)
			if err != nil {
				return err
			}
			m := identity.Member{Role: r, DisplayName: name, Email: email}
			if fromGit {
				detected := identity.DetectFromGit("")
				if m.DisplayName == "" {
					m.DisplayName = detected.DisplayName
				}
				if m.Email == "" {
					m.Email = detected.Email
				}
				m.Source = detected.Source
			}
			if len(args) == 1 {
				m.UID = strings.TrimSpace(args[0])
			} else if m.Email != "" {
				m.UID = identity.UIDFromEmail(m.Email)
			}
			if m.UID == "" {
				return errors.New("uid is required (pass it or use --from-git with an email configured)")
			}
			if inactive {
				active := false
				m.Active = &active
			}
			if err := m.Validate(); err != nil {
				return err
			}

			home := config.MustHomeFrom(cmd.Context())
			if err := identity.SaveMember(home, &m); err != nil {
				return err
			}
			// Opening the backend syncs member files into the store.
			b, _, err := openBackend(cmd)
			if err != nil {
				return err
			}
			_ = b.Close()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s) -> %s\n", m.UID, m.Role, identity.MemberPath(home, m.UID))
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "Role: intake, design, management or production")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().BoolVar(&fromGit, "from-git", false, "Fill name and email from git config")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "Add the member as inactive (no notifications)")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func newUserListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users known to the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, b *daemon.Backend, actor models.User) error {
				users, err := b.Service.Users(ctx, actor)
				if err != nil {
					return err
				}
				if len(users) == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No users")
					return nil
				}
				for _, u := range users {
					state := ""
					if !u.Active {
						state = ", inactive"
					}
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s (%s%s) %s\n", u.UID, u.Role, state, u.DisplayName)
				}
				return nil
			})
		},
	}
	return cmd
}
