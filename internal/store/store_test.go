package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"usher/internal/media"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "usher.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createTestServer(t *testing.T, s *Store, name string) *Server {
	t.Helper()
	server, err := s.CreateServer(context.Background(), &Server{
		Name:        name,
		ServiceType: media.ServicePlex,
		BaseURL:     "http://localhost:32400",
		APIKey:      "token",
		IsActive:    true,
	})
	if err != nil {
		t.Fatalf("CreateServer: %v", err)
	}
	return server
}

func TestServerRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	server := createTestServer(t, s, "den")
	if server.ID == 0 {
		t.Fatal("expected assigned server id")
	}
	if !server.IsActive {
		t.Error("expected server active")
	}
	if server.IsOnline {
		t.Error("new server should start offline")
	}

	checked := time.Now().UTC()
	if err := s.UpdateServerStatus(ctx, server.ID, true, "", checked); err != nil {
		t.Fatalf("UpdateServerStatus: %v", err)
	}
	got, err := s.GetServer(ctx, server.ID)
	if err != nil {
		t.Fatalf("GetServer: %v", err)
	}
	if !got.IsOnline {
		t.Error("expected server online after status update")
	}
	if got.LastCheckedAt == nil {
		t.Error("expected last checked timestamp")
	}

	if err := s.UpdateServerStatus(ctx, server.ID, false, "connection refused", checked); err != nil {
		t.Fatalf("UpdateServerStatus offline: %v", err)
	}
	got, err = s.GetServer(ctx, server.ID)
	if err != nil {
		t.Fatalf("GetServer: %v", err)
	}
	if got.IsOnline {
		t.Error("expected server offline")
	}
	if got.LastStatusError != "connection refused" {
		t.Errorf("status error = %q, want connection refused", got.LastStatusError)
	}
}

func TestListServersActiveOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	createTestServer(t, s, "alpha")
	inactive, err := s.CreateServer(ctx, &Server{
		Name:        "beta",
		ServiceType: media.ServiceJellyfin,
		BaseURL:     "http://localhost:8096",
		IsActive:    false,
	})
	if err != nil {
		t.Fatalf("CreateServer: %v", err)
	}

	all, err := s.ListServers(ctx, false)
	if err != nil {
		t.Fatalf("ListServers: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d servers, want 2", len(all))
	}

	active, err := s.ListServers(ctx, true)
	if err != nil {
		t.Fatalf("ListServers active: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("got %d active servers, want 1", len(active))
	}
	if active[0].ID == inactive.ID {
		t.Error("inactive server returned from active-only listing")
	}
}

func TestGetServerMissing(t *testing.T) {
	s := newTestStore(t)
	server, err := s.GetServer(context.Background(), 9999)
	if err != nil {
		t.Fatalf("GetServer: %v", err)
	}
	if server != nil {
		t.Fatalf("expected nil for missing server, got %+v", server)
	}
}

func TestLibraryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	server := createTestServer(t, s, "den")

	library, err := s.InsertLibrary(ctx, &Library{
		ServerID:   server.ID,
		ExternalID: "1",
		Name:       "Movies",
		Kind:       "movie",
		ItemCount:  412,
	})
	if err != nil {
		t.Fatalf("InsertLibrary: %v", err)
	}

	library.Name = "Films"
	library.ItemCount = 413
	if err := s.UpdateLibrary(ctx, library); err != nil {
		t.Fatalf("UpdateLibrary: %v", err)
	}

	libraries, err := s.LibrariesByServer(ctx, server.ID)
	if err != nil {
		t.Fatalf("LibrariesByServer: %v", err)
	}
	if len(libraries) != 1 {
		t.Fatalf("got %d libraries, want 1", len(libraries))
	}
	if libraries[0].Name != "Films" || libraries[0].ItemCount != 413 {
		t.Errorf("library = %q/%d, want Films/413", libraries[0].Name, libraries[0].ItemCount)
	}

	if err := s.DeleteLibrary(ctx, library.ID); err != nil {
		t.Fatalf("DeleteLibrary: %v", err)
	}
	libraries, err = s.LibrariesByServer(ctx, server.ID)
	if err != nil {
		t.Fatalf("LibrariesByServer: %v", err)
	}
	if len(libraries) != 0 {
		t.Fatalf("got %d libraries after delete, want 0", len(libraries))
	}
}

func TestAccountLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	account, err := s.CreateAccount(ctx, &Account{Username: "nadia", Email: "nadia@example.com"})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	byName, err := s.FindAccountByUsername(ctx, "nadia")
	if err != nil {
		t.Fatalf("FindAccountByUsername: %v", err)
	}
	if byName == nil || byName.ID != account.ID {
		t.Fatalf("username lookup = %+v, want id %s", byName, account.ID)
	}

	byEmail, err := s.FindAccountByEmail(ctx, "nadia@example.com")
	if err != nil {
		t.Fatalf("FindAccountByEmail: %v", err)
	}
	if byEmail == nil || byEmail.ID != account.ID {
		t.Fatalf("email lookup = %+v, want id %s", byEmail, account.ID)
	}

	missing, err := s.FindAccountByUsername(ctx, "nobody")
	if err != nil {
		t.Fatalf("FindAccountByUsername: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown username, got %+v", missing)
	}
}

func TestAccessFindFallback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	server := createTestServer(t, s, "den")

	access, err := s.CreateAccess(ctx, &ServiceAccess{
		ServerID:       server.ID,
		ExternalUserID: "101",
		AltExternalID:  "plex-uuid-abc",
		Username:       "marco",
		LibraryIDs:     []string{"1", "2"},
		IsActive:       true,
	})
	if err != nil {
		t.Fatalf("CreateAccess: %v", err)
	}

	byExternal, err := s.FindAccess(ctx, server.ID, "101", "")
	if err != nil {
		t.Fatalf("FindAccess: %v", err)
	}
	if byExternal == nil || byExternal.ID != access.ID {
		t.Fatalf("external id lookup = %+v, want id %s", byExternal, access.ID)
	}

	byAlt, err := s.FindAccess(ctx, server.ID, "other", "plex-uuid-abc")
	if err != nil {
		t.Fatalf("FindAccess alt: %v", err)
	}
	if byAlt == nil || byAlt.ID != access.ID {
		t.Fatalf("alt id lookup = %+v, want id %s", byAlt, access.ID)
	}

	if got := len(byExternal.LibraryIDs); got != 2 {
		t.Errorf("library ids = %d, want 2", got)
	}
}

func TestAccessCascadeOnAccountDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	server := createTestServer(t, s, "den")

	account, err := s.CreateAccount(ctx, &Account{Username: "ruth"})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	access, err := s.CreateAccess(ctx, &ServiceAccess{
		ServerID:       server.ID,
		AccountID:      &account.ID,
		ExternalUserID: "7",
		Username:       "ruth",
		IsActive:       true,
	})
	if err != nil {
		t.Fatalf("CreateAccess: %v", err)
	}

	count, err := s.CountAccessByAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("CountAccessByAccount: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}

	if err := s.DeleteAccount(ctx, account.ID); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	got, err := s.GetAccess(ctx, access.ID)
	if err != nil {
		t.Fatalf("GetAccess: %v", err)
	}
	if got != nil {
		t.Fatalf("expected access removed with account, got %+v", got)
	}
}

func TestExpiredAccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	server := createTestServer(t, s, "den")

	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)

	expired, err := s.CreateAccess(ctx, &ServiceAccess{
		ServerID:       server.ID,
		ExternalUserID: "1",
		Username:       "old",
		IsActive:       true,
		ExpiresAt:      &past,
	})
	if err != nil {
		t.Fatalf("CreateAccess expired: %v", err)
	}
	if _, err := s.CreateAccess(ctx, &ServiceAccess{
		ServerID:       server.ID,
		ExternalUserID: "2",
		Username:       "current",
		IsActive:       true,
		ExpiresAt:      &future,
	}); err != nil {
		t.Fatalf("CreateAccess current: %v", err)
	}
	if _, err := s.CreateAccess(ctx, &ServiceAccess{
		ServerID:       server.ID,
		ExternalUserID: "3",
		Username:       "forever",
		IsActive:       true,
	}); err != nil {
		t.Fatalf("CreateAccess open-ended: %v", err)
	}

	grants, err := s.ExpiredAccess(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("ExpiredAccess: %v", err)
	}
	if len(grants) != 1 {
		t.Fatalf("got %d expired grants, want 1", len(grants))
	}
	if grants[0].ID != expired.ID {
		t.Errorf("expired grant = %s, want %s", grants[0].ID, expired.ID)
	}
}

func TestStreamEventLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	server := createTestServer(t, s, "den")

	event, err := s.InsertStreamEvent(ctx, &StreamEvent{
		ServerID:       server.ID,
		SessionKey:     "1:42",
		RatingKey:      "1200",
		MediaTitle:     "Alien",
		MediaType:      "movie",
		OffsetSeconds:  30,
		RuntimeSeconds: 6960,
		IsLAN:          true,
	})
	if err != nil {
		t.Fatalf("InsertStreamEvent: %v", err)
	}
	if event.StoppedAt != nil {
		t.Fatal("new event should be open")
	}

	if err := s.UpdateStreamProgress(ctx, event.ID, 905); err != nil {
		t.Fatalf("UpdateStreamProgress: %v", err)
	}

	open, err := s.OpenStreamEvents(ctx)
	if err != nil {
		t.Fatalf("OpenStreamEvents: %v", err)
	}
	if len(open) != 1 || open[0].OffsetSeconds != 905 {
		t.Fatalf("open events = %+v, want one with offset 905", open)
	}

	stopped := time.Now().UTC()
	if err := s.CloseStreamEvent(ctx, event.ID, stopped, 905); err != nil {
		t.Fatalf("CloseStreamEvent: %v", err)
	}

	got, err := s.GetStreamEvent(ctx, event.ID)
	if err != nil {
		t.Fatalf("GetStreamEvent: %v", err)
	}
	if got.StoppedAt == nil {
		t.Fatal("expected stopped timestamp after close")
	}
	if got.DurationSeconds == nil || *got.DurationSeconds != 905 {
		t.Fatalf("duration = %v, want 905", got.DurationSeconds)
	}

	// Closing again must not overwrite the recorded duration.
	if err := s.CloseStreamEvent(ctx, event.ID, stopped.Add(time.Hour), 9999); err != nil {
		t.Fatalf("CloseStreamEvent repeat: %v", err)
	}
	got, err = s.GetStreamEvent(ctx, event.ID)
	if err != nil {
		t.Fatalf("GetStreamEvent: %v", err)
	}
	if *got.DurationSeconds != 905 {
		t.Errorf("duration after repeat close = %d, want 905", *got.DurationSeconds)
	}

	open, err = s.OpenStreamEvents(ctx)
	if err != nil {
		t.Fatalf("OpenStreamEvents: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("got %d open events after close, want 0", len(open))
	}
}

func TestPurgeStreamEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	server := createTestServer(t, s, "den")

	old := time.Now().UTC().Add(-48 * time.Hour)
	stale, err := s.InsertStreamEvent(ctx, &StreamEvent{
		ServerID:   server.ID,
		SessionKey: "1:old",
		StartedAt:  old,
	})
	if err != nil {
		t.Fatalf("InsertStreamEvent: %v", err)
	}
	if err := s.CloseStreamEvent(ctx, stale.ID, old.Add(time.Hour), 3600); err != nil {
		t.Fatalf("CloseStreamEvent: %v", err)
	}

	// Open events survive the purge even when old.
	if _, err := s.InsertStreamEvent(ctx, &StreamEvent{
		ServerID:   server.ID,
		SessionKey: "1:live",
		StartedAt:  old,
	}); err != nil {
		t.Fatalf("InsertStreamEvent live: %v", err)
	}

	purged, err := s.PurgeStreamEventsBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeStreamEventsBefore: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged = %d, want 1", purged)
	}

	open, err := s.OpenStreamEvents(ctx)
	if err != nil {
		t.Fatalf("OpenStreamEvents: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("got %d open events, want 1", len(open))
	}
}

func TestWithTxRollback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sentinel := errors.New("boom")
	err := s.WithTx(ctx, func(tx *Tx) error {
		if _, txErr := tx.CreateServer(ctx, &Server{
			Name:        "ghost",
			ServiceType: media.ServicePlex,
			BaseURL:     "http://localhost:32400",
			IsActive:    true,
		}); txErr != nil {
			return txErr
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("WithTx error = %v, want sentinel", err)
	}

	servers, err := s.ListServers(ctx, false)
	if err != nil {
		t.Fatalf("ListServers: %v", err)
	}
	if len(servers) != 0 {
		t.Fatalf("got %d servers after rollback, want 0", len(servers))
	}
}

func TestWithTxCommit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *Tx) error {
		server, txErr := tx.CreateServer(ctx, &Server{
			Name:        "den",
			ServiceType: media.ServicePlex,
			BaseURL:     "http://localhost:32400",
			IsActive:    true,
		})
		if txErr != nil {
			return txErr
		}
		_, txErr = tx.InsertStreamEvent(ctx, &StreamEvent{ServerID: server.ID, SessionKey: "1:1"})
		return txErr
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}

	open, err := s.OpenStreamEvents(ctx)
	if err != nil {
		t.Fatalf("OpenStreamEvents: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("got %d open events after commit, want 1", len(open))
	}
}
