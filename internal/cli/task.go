package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hesham156/sys/internal/daemon"
	"github.com/hesham156/sys/internal/tasks"
	"github.com/hesham156/sys/pkg/models"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage print tasks",
	}
	cmd.AddCommand(newTaskCreateCmd())
	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskShowCmd())
	cmd.AddCommand(newTaskEditCmd())
	cmd.AddCommand(newTaskMoveCmd())
	cmd.AddCommand(newTaskCommentCmd())
	cmd.AddCommand(newTaskDeleteCmd())
	cmd.AddCommand(newTaskHistoryCmd())
	return cmd
}

// parseDue accepts RFC 3339 or a plain date (midnight UTC).
func parseDue(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: due date %q: want YYYY-MM-DD or RFC 3339", models.ErrInvalid, raw)
	}
	return t, nil
}

func printTaskLine(w io.Writer, t models.Task) {
	client := t.ClientName
	if client == "" {
		client = "no client"
	}
	_, _ = fmt.Fprintf(w, "- %s [%s] %s (%s, %s)\n", t.ID, t.Status, t.Title, client, t.Priority)
}

func newTaskCreateCmd() *cobra.Command {
	var (
		title, description, client, priority, due, assign string
		attachments                                       []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task in New Task and notify design",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := models.NewTask{
				Title:       title,
				Description: description,
				ClientName:  client,
				Priority:    models.Priority(priority),
				Attachments: attachments,
			}
			if due != "" {
				d, err := parseDue(due)
				if err != nil {
					return err
				}
				in.DueDate = d
			}
			if assign != "" {
				in.AssignedTo = &assign
			}
			return withBackend(cmd, func(ctx context.Context, b *daemon.Backend, actor models.User) error {
				t, err := b.Service.Create(ctx, actor, in)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created task %s (status %s)\n", t.ID, t.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Task title")
	cmd.Flags().StringVar(&description, "description", "", "Job description")
	cmd.Flags().StringVar(&client, "client", "", "Client name")
	cmd.Flags().StringVar(&priority, "priority", "", "low, medium (default) or high")
	cmd.Flags().StringVar(&due, "due", "", "Due date (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().StringVar(&assign, "assign", "", "Assignee uid")
	cmd.Flags().StringSliceVar(&attachments, "attach", nil, "Attachment reference (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newTaskListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the tasks visible to your role",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, b *daemon.Backend, actor models.User) error {
				list, err := b.Service.List(ctx, actor, limit)
				if err != nil {
					return err
				}
				if len(list) == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No tasks")
					return nil
				}
				for _, t := range list {
					printTaskLine(cmd.OutOrStdout(), t)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", models.DefaultTaskListLimit, "Maximum tasks to list")
	return cmd
}

func newTaskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one task with comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, b *daemon.Backend, actor models.User) error {
				t, err := b.Service.Get(ctx, actor, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "%s\n", t.Title)
				_, _ = fmt.Fprintf(out, "  id:       %s\n", t.ID)
				_, _ = fmt.Fprintf(out, "  status:   %s (%s)\n", t.Status, t.Status.Label())
				next := "none"
				if targets := b.Service.NextStatuses(actor, *t); len(targets) > 0 {
					names := make([]string, len(targets))
					for i, st := range targets {
						names[i] = string(st)
					}
					next = strings.Join(names, ", ")
				}
				_, _ = fmt.Fprintf(out, "  next:     %s\n", next)
				_, _ = fmt.Fprintf(out, "  client:   %s\n", t.ClientName)
				_, _ = fmt.Fprintf(out, "  priority: %s\n", t.Priority)
				_, _ = fmt.Fprintf(out, "  created:  %s by %s\n", t.CreatedAt.Format(time.RFC3339), t.CreatedBy)
				if !t.DueDate.IsZero() {
					_, _ = fmt.Fprintf(out, "  due:      %s\n", t.DueDate.Format(time.DateOnly))
				}
				if t.AssignedTo != nil {
					_, _ = fmt.Fprintf(out, "  assigned: %s\n", *t.AssignedTo)
				}
				if t.Description != "" {
					_, _ = fmt.Fprintf(out, "\n%s\n", t.Description)
				}
				for _, a := range t.Attachments {
					_, _ = fmt.Fprintf(out, "  attachment: %s\n", a)
				}
				if len(t.Comments) > 0 {
					_, _ = fmt.Fprintln(out, "\nComments:")
					for _, c := range t.Comments {
						_, _ = fmt.Fprintf(out, "- %s (%s): %s\n", c.CreatedBy, c.CreatedAt.Format(time.RFC3339), c.Text)
					}
				}
				return nil
			})
		},
	}
	return cmd
}

func newTaskEditCmd() *cobra.Command {
	var (
		title, description, client, priority, due, assign string
		attachments                                       []string
	)
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change task fields (only the flags you pass)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch models.TaskPatch
			f := cmd.Flags()
			if f.Changed("title") {
				patch.Title = &title
			}
			if f.Changed("description") {
				patch.Description = &description
			}
			if f.Changed("client") {
				patch.ClientName = &client
			}
			if f.Changed("priority") {
				p := models.Priority(priority)
				patch.Priority = &p
			}
			if f.Changed("due") {
				d, err := parseDue(due)
				if err != nil {
					return err
				}
				patch.DueDate = &d
			}
			if f.Changed("assign") {
				patch.AssignedTo = &assign
			}
			if f.Changed("attach") {
				patch.Attachments = &attachments
			}
			return withBackend(cmd, func(ctx context.Context, b *daemon.Backend, actor models.User) error {
				t, err := b.Service.Update(ctx, actor, args[0], patch, nil)
				if err != nil {
					return err
				}
				printTaskLine(cmd.OutOrStdout(), *t)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Task title")
	cmd.Flags().StringVar(&description, "description", "", "Job description")
	cmd.Flags().StringVar(&client, "client", "", "Client name")
	cmd.Flags().StringVar(&priority, "priority", "", "low, medium or high")
	cmd.Flags().StringVar(&due, "due", "", "Due date (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().StringVar(&assign, "assign", "", "Assignee uid")
	cmd.Flags().StringSliceVar(&attachments, "attach", nil, "Replace attachments (repeatable)")
	return cmd
}

func newTaskMoveCmd() *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "move <id> <status>",
		Short: "Move a task to another workflow status",
		Long:  "Statuses: new, design, review, approved, production, completed, rejected.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := models.ParseStatus(args[1])
			if err != nil {
				return err
			}
			return withBackend(cmd, func(ctx context.Context, b *daemon.Backend, actor models.User) error {
				t, err := b.Service.Transition(ctx, actor, args[0], to, comment)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Moved task %s to %s\n", t.ID, t.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "Note recorded with the transition")
	return cmd
}

func newTaskCommentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "comment <id> <text...>",
		Short: "Add a comment to a task",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args[1:], " ")
			return withBackend(cmd, func(ctx context.Context, b *daemon.Backend, actor models.User) error {
				c, err := b.Service.AddComment(ctx, actor, args[0], text)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Added comment %s\n", c.ID)
				return nil
			})
		},
	}
	return cmd
}

func newTaskDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task with its comments and history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, b *daemon.Backend, actor models.User) error {
				if err := b.Service.Delete(ctx, actor, args[0]); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted task %s\n", args[0])
				return nil
			})
		},
	}
	return cmd
}

func newTaskHistoryCmd() *cobra.Command {
	var order string
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show the audit trail of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, b *daemon.Backend, actor models.User) error {
				entries, err := b.Service.History(ctx, actor, args[0], order)
				if err != nil {
					return err
				}
				for _, h := range entries {
					line := fmt.Sprintf("- %s %s by %s", h.Timestamp.Format(time.RFC3339Nano), h.Action, h.PerformedBy)
					if h.FromStatus != nil && h.ToStatus != nil {
						line += fmt.Sprintf(" (%s -> %s)", *h.FromStatus, *h.ToStatus)
					}
					if h.Comment != nil {
						line += ": " + *h.Comment
					}
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), line)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&order, "order", tasks.OrderInsertion, "insertion or timestamp")
	return cmd
}
