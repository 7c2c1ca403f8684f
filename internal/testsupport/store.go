package testsupport

import (
	"context"
	"testing"
	"time"

	"usher/internal/config"
	"usher/internal/media"
	"usher/internal/store"
)

// MustOpenStore opens a cache store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

// NewServer creates an active test server row.
func NewServer(t testing.TB, st *store.Store, name string, serviceType media.ServiceType) *store.Server {
	t.Helper()

	server, err := st.CreateServer(context.Background(), &store.Server{
		Name:        name,
		ServiceType: serviceType,
		BaseURL:     "http://localhost:32400",
		APIKey:      "token",
		IsActive:    true,
	})
	if err != nil {
		t.Fatalf("store.CreateServer: %v", err)
	}
	return server
}

// NewAccess creates an access grant on the given server, optionally expiring.
func NewAccess(t testing.TB, st *store.Store, serverID int64, externalID, username string, expiresAt *time.Time) *store.ServiceAccess {
	t.Helper()

	access, err := st.CreateAccess(context.Background(), &store.ServiceAccess{
		ServerID:       serverID,
		ExternalUserID: externalID,
		Username:       username,
		IsActive:       true,
		ExpiresAt:      expiresAt,
	})
	if err != nil {
		t.Fatalf("store.CreateAccess: %v", err)
	}
	return access
}
