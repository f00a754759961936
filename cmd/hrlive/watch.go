package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/izhars/hrm-admin-sub002/hrlive"
)

func newWatchCmd(load func() settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow presence, pushed notifications and the unread badge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
			return runWatch(cmd.Context(), cmd.OutOrStdout(), load(), metricsAddr)
		},
	}
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9108)")
	return cmd
}

func runWatch(ctx context.Context, out io.Writer, s settings, metricsAddr string) error {
	if err := s.validate(); err != nil {
		return err
	}
	zl := s.logger()
	log := hrlive.NewZerologLogger(zl)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	session := hrlive.NewSession(s.config(), s.backend(log))
	session.SetLogger(log)
	session.SetMetrics(hrlive.NewMetrics(reg))

	session.Conn().OnStateChanged(func(ev hrlive.StateEvent) {
		fmt.Fprintf(out, "%s  connection %s -> %s\n", stamp(), ev.OldState, ev.NewState)
	})
	session.Conn().Subscribe(hrlive.EventReconnectFailed, func(ev hrlive.Event) {
		fmt.Fprintf(out, "%s  gave up reconnecting: %v\n", stamp(), ev.Err)
	})
	session.Presence().OnChange(func(ch hrlive.PresenceChange) {
		name := ch.PeerID
		if rec, ok := session.Presence().Record(ch.PeerID); ok && rec.DisplayName != "" {
			name = rec.DisplayName
		}
		status := "offline"
		if ch.Online {
			status = "online"
		}
		fmt.Fprintf(out, "%s  %s is %s (%d online)\n", stamp(), name, status, len(session.Presence().ListOnline()))
	})
	var mu sync.Mutex
	seen := make(map[string]bool)
	session.Notifications().OnChange(func(items []hrlive.Notification) {
		mu.Lock()
		defer mu.Unlock()
		for _, n := range items {
			if seen[n.ID] {
				continue
			}
			seen[n.ID] = true
			if session.Notifications().IsHighlighted(n.ID) {
				fmt.Fprintf(out, "%s  NEW [%s] %s: %s\n", stamp(), n.Type, n.Title, n.Message)
			}
		}
	})
	session.Badge().OnChange(func(n int) {
		fmt.Fprintf(out, "%s  unread: %d\n", stamp(), n)
	})

	g, gCtx := errgroup.WithContext(ctx)

	if metricsAddr != "" {
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           metricsRouter(reg, session),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			zl.Info().Str("addr", metricsAddr).Msg("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		if _, err := session.Notifications().FetchPage(gCtx, 1, hrlive.NotificationFilters{}); err != nil {
			zl.Warn().Err(err).Msg("initial notification page failed")
		}
		if err := session.Open(gCtx, s.Token); err != nil {
			zl.Warn().Err(err).Msg("first connection attempt failed")
		}
		<-gCtx.Done()
		return session.Close()
	})

	return g.Wait()
}

// metricsRouter exposes the registry and a health check reporting the
// connection state.
func metricsRouter(reg *prometheus.Registry, session *hrlive.Session) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		state := session.Conn().State()
		if state != hrlive.StateConnected {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_, _ = fmt.Fprintln(w, state)
	})
	return r
}

func stamp() string { return time.Now().Format("15:04:05") }
