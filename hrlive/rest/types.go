package rest

import (
	"encoding/json"
	"strings"
)

// Notification types

// Notification is a notification as listed by the API. Timestamps are kept
// as sent; callers normalize them.
type Notification struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Message   string  `json:"message"`
	Type      string  `json:"type"`
	Read      *bool   `json:"read"`
	CreatedAt string  `json:"createdAt"`
	Link      *string `json:"link,omitempty"`
}

// Pagination describes the returned page.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// NotificationsResponse contains a page of notifications with pagination info.
type NotificationsResponse struct {
	Notifications []Notification `json:"notifications"`
	Pagination    Pagination     `json:"pagination"`
}

// ListNotificationsParams selects a page. Empty Type and nil Read mean "any".
type ListNotificationsParams struct {
	Page  int
	Limit int
	Type  string
	Read  *bool
}

// DeleteManyRequest is the request body for bulk deletion.
type DeleteManyRequest struct {
	IDs []string `json:"ids"`
}

// Employee types

// LastSeenResponse carries an employee's last-seen timestamp. Servers send
// an ISO string, a unix number or null.
type LastSeenResponse struct {
	LastSeen json.RawMessage `json:"lastSeen"`
}

// Raw returns the timestamp as text, or "" when null or absent.
func (r LastSeenResponse) Raw() string {
	raw := strings.TrimSpace(string(r.LastSeen))
	if raw == "" || raw == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.LastSeen, &s); err == nil {
		return s
	}
	return raw
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
