package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/izhars/hrm-admin-sub002/hrlive"
)

func newNotificationsCmd(load func() settings) *cobra.Command {
	var (
		page   int
		typ    string
		unread bool
	)
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List and manage notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stream := newStream(load())
			filters := hrlive.NotificationFilters{Type: hrlive.NotificationType(typ)}
			if unread {
				read := false
				filters.Read = &read
			}
			items, err := stream.FetchPage(cmd.Context(), page, filters)
			if err != nil {
				return err
			}
			printNotifications(cmd.OutOrStdout(), items, stream.Page())
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().StringVar(&typ, "type", "", "only this type (info, success, warning, error, system)")
	cmd.Flags().BoolVar(&unread, "unread", false, "only unread notifications")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "read <id>...",
			Short: "Mark notifications read",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				stream := newStream(load())
				for _, id := range args {
					if err := stream.MarkRead(cmd.Context(), id); err != nil {
						return err
					}
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "read-all",
			Short: "Mark every notification read",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return newStream(load()).MarkAllRead(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "delete <id>...",
			Short: "Delete notifications",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				stream := newStream(load())
				if len(args) == 1 {
					return stream.Delete(cmd.Context(), args[0])
				}
				return stream.DeleteMany(cmd.Context(), args)
			},
		},
	)
	return cmd
}

func newStream(s settings) *hrlive.NotificationStream {
	log := hrlive.NewZerologLogger(s.logger())
	stream := hrlive.NewNotificationStream(s.backend(log), s.config())
	stream.SetLogger(log)
	return stream
}

func printNotifications(out io.Writer, items []hrlive.Notification, page hrlive.PageInfo) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tID\tTYPE\tTITLE\tCREATED")
	now := time.Now()
	for _, n := range items {
		mark := ""
		if !n.Read {
			mark = "*"
		}
		created := "Unknown"
		if !n.CreatedAt.IsZero() {
			created = hrlive.FormatLastSeenTime(&n.CreatedAt, now)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", mark, n.ID, n.Type, n.Title, created)
	}
	_ = w.Flush()
	fmt.Fprintf(out, "page %d/%d, %d total\n", page.Page, page.Pages, page.Total)
}
