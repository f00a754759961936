package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/izhars/hrm-admin-sub002/hrlive"
	"github.com/izhars/hrm-admin-sub002/hrlive/rest"
)

// settings is the resolved CLI configuration: flags, then HRLIVE_* env,
// then .env, then defaults.
type settings struct {
	URL            string
	APIURL         string
	Token          string
	UserID         string
	Codec          string
	LogFormat      string
	LogLevel       string
	ReconnectDelay time.Duration
	MaxReconnect   int
	BadgeInterval  time.Duration
	PageSize       int
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:           "hrlive",
		Short:         "Real-time presence, chat and notifications for the HR console",
		Long:          "hrlive connects to the HR console real-time channel as an operator: it tracks who is online, chats with employees and follows the notification feed.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load()
			return v.BindPFlags(cmd.Flags())
		},
	}

	defaults := hrlive.DefaultConfig()
	f := rootCmd.PersistentFlags()
	f.String("url", "ws://localhost:5000/ws", "real-time endpoint")
	f.String("api-url", "http://localhost:5000/api", "REST API base URL")
	f.String("token", "", "bearer token")
	f.String("user", "", "operator user id (registers for notification pushes)")
	f.String("codec", defaults.Codec, "frame codec: json or msgpack")
	f.String("log-format", "console", "log output: console or json")
	f.String("log-level", "info", "log level")
	f.Duration("reconnect-delay", defaults.ReconnectDelay, "delay between reconnection attempts")
	f.Int("max-reconnect", defaults.MaxReconnectAttempts, "reconnection attempts before giving up")
	f.Duration("badge-interval", defaults.BadgeInterval, "unread badge poll interval")
	f.Int("page-size", defaults.PageSize, "notifications per page")

	v.SetEnvPrefix("HRLIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	load := func() settings {
		return settings{
			URL:            v.GetString("url"),
			APIURL:         v.GetString("api-url"),
			Token:          v.GetString("token"),
			UserID:         v.GetString("user"),
			Codec:          v.GetString("codec"),
			LogFormat:      v.GetString("log-format"),
			LogLevel:       v.GetString("log-level"),
			ReconnectDelay: v.GetDuration("reconnect-delay"),
			MaxReconnect:   v.GetInt("max-reconnect"),
			BadgeInterval:  v.GetDuration("badge-interval"),
			PageSize:       v.GetInt("page-size"),
		}
	}

	rootCmd.AddCommand(
		newWatchCmd(load),
		newChatCmd(load),
		newNotificationsCmd(load),
		newLastSeenCmd(load),
	)
	return rootCmd
}

func (s settings) config() hrlive.Config {
	cfg := hrlive.DefaultConfig()
	cfg.URL = s.URL
	cfg.UserID = s.UserID
	cfg.Codec = s.Codec
	cfg.ReconnectDelay = s.ReconnectDelay
	cfg.MaxReconnectAttempts = s.MaxReconnect
	cfg.BadgeInterval = s.BadgeInterval
	if s.PageSize > 0 {
		cfg.PageSize = s.PageSize
	}
	return cfg
}

func (s settings) logger() zerolog.Logger {
	level, err := zerolog.ParseLevel(s.LogLevel)
	if err != nil || s.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if s.LogFormat == "json" {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func (s settings) backend(log hrlive.Logger) *hrlive.RESTBackend {
	client := rest.NewClient(s.APIURL)
	client.SetToken(s.Token)
	b := hrlive.NewRESTBackend(client)
	b.SetLogger(log)
	return b
}

func (s settings) validate() error {
	if err := s.config().Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}
