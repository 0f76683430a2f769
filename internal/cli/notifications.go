package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hesham156/sys/internal/daemon"
	"github.com/hesham156/sys/pkg/models"
)

func newNotificationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"inbox"},
		Short:   "Read your notification inbox",
	}
	cmd.AddCommand(newNotificationsListCmd())
	cmd.AddCommand(newNotificationsReadCmd())
	cmd.AddCommand(newNotificationsReadAllCmd())
	cmd.AddCommand(newNotificationsCountCmd())
	return cmd
}

func newNotificationsListCmd() *cobra.Command {
	var limit int
	var unreadOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your notifications, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, b *daemon.Backend, actor models.User) error {
				list, err := b.Service.Notifications(ctx, actor, limit)
				if err != nil {
					return err
				}
				shown := 0
				for _, n := range list {
					if unreadOnly && n.Read {
						continue
					}
					mark := "*"
					if n.Read {
						mark = " "
					}
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s: %s (%s)\n", mark, n.ID, n.Title, n.Message, n.CreatedAt.Format(time.RFC3339))
					shown++
				}
				if shown == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No notifications")
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", models.DefaultNotificationListLimit, "Maximum notifications to list")
	cmd.Flags().BoolVar(&unreadOnly, "unread", false, "Only show unread notifications")
	return cmd
}

func newNotificationsReadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <id>",
		Short: "Mark one notification as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, b *daemon.Backend, actor models.User) error {
				if _, err := b.Service.MarkAsRead(ctx, actor, args[0]); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Marked %s as read\n", args[0])
				return nil
			})
		},
	}
	return cmd
}

func newNotificationsReadAllCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read-all",
		Short: "Mark every unread notification as read",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, b *daemon.Backend, actor models.User) error {
				n, err := b.Service.MarkAllAsRead(ctx, actor)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Marked %d notifications as read\n", n)
				return nil
			})
		},
	}
	return cmd
}

func newNotificationsCountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Print your unread count",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, b *daemon.Backend, actor models.User) error {
				n, err := b.Service.UnreadCount(ctx, actor)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			})
		},
	}
	return cmd
}
