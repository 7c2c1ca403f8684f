package store

import (
	"time"

	"github.com/google/uuid"

	"usher/internal/media"
)

// Server is one configured media server instance.
type Server struct {
	ID              int64
	Name            string
	ServiceType     media.ServiceType
	BaseURL         string
	APIKey          string
	IsActive        bool
	IsOnline        bool
	LastStatusError string
	LastCheckedAt   *time.Time
	LastSyncedAt    *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Library is one content collection on a server.
type Library struct {
	ID         int64
	ServerID   int64
	ExternalID string
	Name       string
	Kind       string
	ItemCount  int64
	ScannedAt  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Account is a locally-known identity that may hold access grants on any
// number of servers.
type Account struct {
	ID             uuid.UUID
	Username       string
	Email          string
	AvatarURL      string
	LastStreamedAt *time.Time
	CreatedAt      time.Time
}

// ServiceAccess is one user's grant on one specific server. AccountID is nil
// for standalone grants that exist only on the vendor service.
type ServiceAccess struct {
	ID             uuid.UUID
	ServerID       int64
	AccountID      *uuid.UUID
	ExternalUserID string
	AltExternalID  string
	Username       string
	Email          string
	LibraryIDs     []string
	AllowDownloads bool
	Allow4K        bool
	IsActive       bool
	ExpiresAt      *time.Time
	LastActivityAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// StreamEvent is one playback session record. StoppedAt is nil while the
// session is believed live; DurationSeconds is set only at close.
type StreamEvent struct {
	ID              int64
	ServerID        int64
	AccountID       *uuid.UUID
	AccessID        *uuid.UUID
	SessionKey      string
	RatingKey       string
	StartedAt       time.Time
	StoppedAt       *time.Time
	OffsetSeconds   int64
	DurationSeconds *int64
	MediaTitle      string
	MediaType       string
	SeriesTitle     string
	SeasonTitle     string
	Platform        string
	Product         string
	Player          string
	IPAddress       string
	IsLAN           bool
	RuntimeSeconds  int64
}
