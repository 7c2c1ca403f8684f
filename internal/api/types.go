// Package api defines the JSON payloads shared by the daemon's HTTP surface
// and the CLI client.
package api

import "time"

// DaemonStatus is the response for GET /api/status.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	DatabasePath string         `json:"database_path"`
	LockFilePath string         `json:"lock_file_path"`
	OpenSessions int            `json:"open_sessions"`
	Servers      []ServerStatus `json:"servers"`
}

// ServerStatus is one configured media server with its last known health.
type ServerStatus struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	ServiceType     string     `json:"service_type"`
	DisplayType     string     `json:"display_type"`
	BaseURL         string     `json:"base_url"`
	IsActive        bool       `json:"is_active"`
	IsOnline        bool       `json:"is_online"`
	LastStatusError string     `json:"last_status_error,omitempty"`
	LastCheckedAt   *time.Time `json:"last_checked_at,omitempty"`
	LastSyncedAt    *time.Time `json:"last_synced_at,omitempty"`
}

// ServerListResponse is the response for GET /api/servers.
type ServerListResponse struct {
	Servers []ServerStatus `json:"servers"`
}

// CreateServerRequest is the body for POST /api/servers.
type CreateServerRequest struct {
	Name        string `json:"name"`
	ServiceType string `json:"service_type"`
	BaseURL     string `json:"base_url"`
	APIKey      string `json:"api_key"`
}

// SessionInfo is one open playback session.
type SessionInfo struct {
	ID             int64     `json:"id"`
	ServerID       int64     `json:"server_id"`
	ServerName     string    `json:"server_name,omitempty"`
	SessionKey     string    `json:"session_key"`
	Username       string    `json:"username,omitempty"`
	MediaTitle     string    `json:"media_title"`
	MediaType      string    `json:"media_type,omitempty"`
	SeriesTitle    string    `json:"series_title,omitempty"`
	Player         string    `json:"player,omitempty"`
	IPAddress      string    `json:"ip_address,omitempty"`
	IsLAN          bool      `json:"is_lan"`
	StartedAt      time.Time `json:"started_at"`
	OffsetSeconds  int64     `json:"offset_seconds"`
	RuntimeSeconds int64     `json:"runtime_seconds"`
}

// SessionListResponse is the response for GET /api/sessions.
type SessionListResponse struct {
	Sessions []SessionInfo `json:"sessions"`
}

// SyncServerResult reports one server's outcome within a sync pass.
type SyncServerResult struct {
	ServerID         int64    `json:"server_id"`
	ServerName       string   `json:"server_name"`
	Success          bool     `json:"success"`
	LibrariesMessage string   `json:"libraries_message,omitempty"`
	UsersMessage     string   `json:"users_message,omitempty"`
	LibrariesAdded   int      `json:"libraries_added"`
	LibrariesUpdated int      `json:"libraries_updated"`
	LibrariesRemoved int      `json:"libraries_removed"`
	UsersAdded       int      `json:"users_added"`
	UsersUpdated     int      `json:"users_updated"`
	UsersRemoved     int      `json:"users_removed"`
	Changes          []string `json:"changes,omitempty"`
}

// SyncResponse is the response for POST /api/sync.
type SyncResponse struct {
	Servers []SyncServerResult `json:"servers"`
}

// TestConnectionResponse is the response for POST /api/servers/{id}/test.
type TestConnectionResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse carries an error message for non-2xx responses.
type ErrorResponse struct {
	Error string `json:"error"`
}
