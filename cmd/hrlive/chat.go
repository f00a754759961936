package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/izhars/hrm-admin-sub002/hrlive"
)

func newChatCmd(load func() settings) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <employee-id>",
		Short: "Chat with an employee",
		Long:  "chat opens a conversation with an employee. Every stdin line is sent as a message; /retry resends messages that did not go out, /quit leaves.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), load(), args[0])
		},
	}
}

func runChat(ctx context.Context, in io.Reader, out io.Writer, s settings, peerID string) error {
	if err := s.validate(); err != nil {
		return err
	}
	zl := s.logger()
	log := hrlive.NewZerologLogger(zl)

	session := hrlive.NewSession(s.config(), s.backend(log))
	session.SetLogger(log)
	defer session.Close()

	if err := session.Open(ctx, s.Token); err != nil {
		zl.Warn().Err(err).Msg("first connection attempt failed, retrying in background")
	}
	conv, err := session.OpenConversation(ctx, peerID)
	if err != nil {
		zl.Warn().Err(err).Msg("history request failed")
	}

	printer := &logPrinter{out: out}
	conv.Messages().OnChange(printer.print)
	conv.OnLastSeen(func(hrlive.LastSeenValue) {
		fmt.Fprintf(out, "-- %s\n", conv.Status(time.Now()).Label)
	})
	session.Presence().OnChange(func(ch hrlive.PresenceChange) {
		if ch.PeerID == peerID && ch.Online {
			fmt.Fprintln(out, "-- Online")
		}
	})
	fmt.Fprintf(out, "-- chatting with %s (%s)\n", peerID, conv.Status(time.Now()).Label)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gCtx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				switch strings.TrimSpace(line) {
				case "":
					continue
				case "/quit":
					return nil
				case "/retry":
					for _, m := range conv.Messages().Unconfirmed() {
						if !m.Failed {
							continue
						}
						if _, err := conv.Messages().Resend(gCtx, m.LocalID); err != nil {
							fmt.Fprintf(out, "-- resend failed: %v\n", err)
						}
					}
					continue
				}
				if _, err := conv.Messages().SendMessage(gCtx, line); err != nil {
					fmt.Fprintf(out, "-- not sent (%v); type /retry once connected\n", err)
				}
			}
		}
	})
	return g.Wait()
}

// logPrinter prints log entries the first time they appear and again when
// they get confirmed.
type logPrinter struct {
	out io.Writer

	mu      sync.Mutex
	printed map[string]bool
}

func (p *logPrinter) print(log []hrlive.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.printed == nil {
		p.printed = make(map[string]bool)
	}
	for _, m := range log {
		key := m.LocalID
		if m.Confirmed {
			key += "+"
		}
		if p.printed[key] {
			continue
		}
		p.printed[key] = true

		who := "me"
		if m.Sender == hrlive.SenderRemote {
			who = "them"
		}
		mark := ""
		switch {
		case m.Failed:
			mark = " (not sent)"
		case m.Sender == hrlive.SenderLocal && !m.Confirmed:
			mark = " (sending)"
		case m.Sender == hrlive.SenderLocal:
			mark = " (delivered)"
		}
		fmt.Fprintf(p.out, "[%s] %s: %s%s\n", m.SentAt.Format("15:04"), who, m.Text, mark)
	}
}
