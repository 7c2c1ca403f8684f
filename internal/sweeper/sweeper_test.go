package sweeper

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"usher/internal/logging"
	"usher/internal/media"
	"usher/internal/store"
)

type fakeClient struct {
	removed   []string
	removeErr error
}

func (f *fakeClient) TestConnection(context.Context) (bool, string)            { return true, "" }
func (f *fakeClient) ActiveSessions(context.Context) ([]media.Session, error)  { return nil, nil }
func (f *fakeClient) Users(context.Context) ([]media.RemoteUser, error)        { return nil, nil }
func (f *fakeClient) Libraries(context.Context) ([]media.RemoteLibrary, error) { return nil, nil }

func (f *fakeClient) RemoveUser(_ context.Context, externalID string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, externalID)
	return nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "usher.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSweepRemovesExpiredGrants(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	server, err := st.CreateServer(ctx, &store.Server{
		Name:        "den",
		ServiceType: media.ServicePlex,
		BaseURL:     "http://localhost:32400",
		IsActive:    true,
	})
	if err != nil {
		t.Fatalf("CreateServer: %v", err)
	}

	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)
	if _, err := st.CreateAccess(ctx, &store.ServiceAccess{
		ServerID:       server.ID,
		ExternalUserID: "10",
		Username:       "expired",
		IsActive:       true,
		ExpiresAt:      &past,
	}); err != nil {
		t.Fatalf("CreateAccess expired: %v", err)
	}
	keeper, err := st.CreateAccess(ctx, &store.ServiceAccess{
		ServerID:       server.ID,
		ExternalUserID: "11",
		Username:       "keeper",
		IsActive:       true,
		ExpiresAt:      &future,
	})
	if err != nil {
		t.Fatalf("CreateAccess keeper: %v", err)
	}

	client := &fakeClient{}
	sweeper := New(st, func(*store.Server) (media.Client, error) { return client, nil }, logging.NewNop())

	result, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if result.Expired != 1 || result.RemovedRemotely != 1 {
		t.Fatalf("result = %+v, want 1 expired removed remotely", result)
	}
	if len(client.removed) != 1 || client.removed[0] != "10" {
		t.Fatalf("remote removals = %v, want [10]", client.removed)
	}
	if len(result.Removed) != 1 || result.Removed[0] != "expired (den)" {
		t.Fatalf("removed = %v, want [expired (den)]", result.Removed)
	}

	grants, err := st.AccessByServer(ctx, server.ID)
	if err != nil {
		t.Fatalf("AccessByServer: %v", err)
	}
	if len(grants) != 1 || grants[0].ID != keeper.ID {
		t.Fatalf("grants = %+v, want only keeper", grants)
	}
}

func TestSweepProceedsWhenRemoteRemovalFails(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	server, err := st.CreateServer(ctx, &store.Server{
		Name:        "den",
		ServiceType: media.ServicePlex,
		BaseURL:     "http://localhost:32400",
		IsActive:    true,
	})
	if err != nil {
		t.Fatalf("CreateServer: %v", err)
	}
	past := time.Now().UTC().Add(-time.Minute)
	if _, err := st.CreateAccess(ctx, &store.ServiceAccess{
		ServerID:       server.ID,
		ExternalUserID: "10",
		Username:       "expired",
		IsActive:       true,
		ExpiresAt:      &past,
	}); err != nil {
		t.Fatalf("CreateAccess: %v", err)
	}

	client := &fakeClient{removeErr: errors.New("503 service unavailable")}
	sweeper := New(st, func(*store.Server) (media.Client, error) { return client, nil }, logging.NewNop())

	result, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if result.Expired != 1 || result.RemoteFailures != 1 {
		t.Fatalf("result = %+v, want 1 expired with 1 remote failure", result)
	}

	grants, err := st.AccessByServer(ctx, server.ID)
	if err != nil {
		t.Fatalf("AccessByServer: %v", err)
	}
	if len(grants) != 0 {
		t.Fatalf("got %d grants, want local removal despite remote failure", len(grants))
	}
}

func TestSweepDeletesOrphanedAccount(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	server, err := st.CreateServer(ctx, &store.Server{
		Name:        "den",
		ServiceType: media.ServicePlex,
		BaseURL:     "http://localhost:32400",
		IsActive:    true,
	})
	if err != nil {
		t.Fatalf("CreateServer: %v", err)
	}
	account, err := st.CreateAccount(ctx, &store.Account{Username: "drifter"})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	past := time.Now().UTC().Add(-time.Minute)
	if _, err := st.CreateAccess(ctx, &store.ServiceAccess{
		ServerID:       server.ID,
		AccountID:      &account.ID,
		ExternalUserID: "10",
		Username:       "drifter",
		IsActive:       true,
		ExpiresAt:      &past,
	}); err != nil {
		t.Fatalf("CreateAccess: %v", err)
	}

	client := &fakeClient{}
	sweeper := New(st, func(*store.Server) (media.Client, error) { return client, nil }, logging.NewNop())

	if _, err := sweeper.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	orphan, err := st.GetAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if orphan != nil {
		t.Fatal("expected account deleted with its last grant")
	}
}

func TestSweepNoExpirations(t *testing.T) {
	st := newTestStore(t)
	sweeper := New(st, func(*store.Server) (media.Client, error) {
		t.Fatal("client factory must not be called with nothing expired")
		return nil, nil
	}, logging.NewNop())

	result, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if result.Expired != 0 {
		t.Fatalf("result = %+v, want empty", result)
	}
}
