package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/izhars/hrm-admin-sub002/hrlive"
)

func newLastSeenCmd(load func() settings) *cobra.Command {
	return &cobra.Command{
		Use:   "last-seen <employee-id>",
		Short: "Show when an employee was last online",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s := load()
			v, err := s.backend(hrlive.NewZerologLogger(s.logger())).LastSeen(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("last seen of %s: %w", args[0], err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hrlive.FormatLastSeenTime(v.At, time.Now()))
			return err
		},
	}
}
