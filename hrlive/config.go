package hrlive

import "time"

// Config controls how the SDK connects and how its timers behave.
type Config struct {
	URL    string
	UserID string // operator id; sent with register
	Codec  string // "json" (default) or "msgpack"

	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration // 0 keeps idle connections open
	WriteTimeout     time.Duration

	AutoReconnect        bool
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int

	HighlightWindow time.Duration
	PageSize        int
	BadgeInterval   time.Duration
	BadgePageSize   int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Codec:                "json",
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         10 * time.Second,
		AutoReconnect:        true,
		ReconnectDelay:       time.Second,
		MaxReconnectAttempts: 5,
		HighlightWindow:      4 * time.Second,
		PageSize:             10,
		BadgeInterval:        10 * time.Second,
		BadgePageSize:        20,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.URL == "" {
		return NewError(ErrorInvalidConfig, "empty URL")
	}
	if _, err := CodecByName(c.Codec); err != nil {
		return err
	}
	if c.AutoReconnect && c.ReconnectDelay <= 0 {
		return NewError(ErrorInvalidConfig, "reconnect delay must be positive")
	}
	if c.MaxReconnectAttempts < 0 {
		return NewError(ErrorInvalidConfig, "max reconnect attempts must not be negative")
	}
	if c.HighlightWindow < 0 || c.BadgeInterval < 0 {
		return NewError(ErrorInvalidConfig, "negative interval")
	}
	return nil
}
