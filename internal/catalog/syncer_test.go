package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"usher/internal/logging"
	"usher/internal/media"
	"usher/internal/store"
)

type fakeClient struct {
	ok        bool
	okMessage string
	users     []media.RemoteUser
	usersErr  error
	libraries []media.RemoteLibrary
	libsErr   error
}

func (f *fakeClient) TestConnection(context.Context) (bool, string) { return f.ok, f.okMessage }

func (f *fakeClient) ActiveSessions(context.Context) ([]media.Session, error) { return nil, nil }

func (f *fakeClient) Users(context.Context) ([]media.RemoteUser, error) {
	return f.users, f.usersErr
}

func (f *fakeClient) Libraries(context.Context) ([]media.RemoteLibrary, error) {
	return f.libraries, f.libsErr
}

func (f *fakeClient) RemoveUser(context.Context, string) error { return nil }

type fixture struct {
	store  *store.Store
	syncer *Syncer
	client *fakeClient
	server *store.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(filepath.Join(t.TempDir(), "usher.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	server, err := st.CreateServer(ctx, &store.Server{
		Name:        "den",
		ServiceType: media.ServicePlex,
		BaseURL:     "http://localhost:32400",
		IsActive:    true,
	})
	if err != nil {
		t.Fatalf("CreateServer: %v", err)
	}

	client := &fakeClient{ok: true}
	syncer := New(st, func(*store.Server) (media.Client, error) {
		return client, nil
	}, logging.NewNop())

	return &fixture{store: st, syncer: syncer, client: client, server: server}
}

func TestSyncLibrariesAddUpdateRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.client.libraries = []media.RemoteLibrary{
		{ID: "1", Name: "Movies", Kind: "movie", ItemCount: 120},
		{ID: "2", Name: "Shows", Kind: "show", ItemCount: 48},
	}
	result := f.syncer.SyncLibraries(ctx, f.server)
	if !result.Success {
		t.Fatalf("sync failed: %s", result.Message)
	}
	if result.Added != 2 || result.Updated != 0 || result.Removed != 0 {
		t.Fatalf("counts = %d/%d/%d, want 2/0/0", result.Added, result.Updated, result.Removed)
	}

	// Item count moves and one library disappears.
	f.client.libraries = []media.RemoteLibrary{
		{ID: "1", Name: "Movies", Kind: "movie", ItemCount: 135},
	}
	result = f.syncer.SyncLibraries(ctx, f.server)
	if !result.Success {
		t.Fatalf("sync failed: %s", result.Message)
	}
	if result.Updated != 1 || result.Removed != 1 {
		t.Fatalf("counts = %d/%d/%d, want 0/1/1", result.Added, result.Updated, result.Removed)
	}
	if len(result.RemovedNames) != 1 || result.RemovedNames[0] != "Shows (den)" {
		t.Errorf("removed names = %v, want [Shows (den)]", result.RemovedNames)
	}
	found := false
	for _, change := range result.Changes {
		if strings.Contains(change, "item count changed from 120 to 135") {
			found = true
		}
	}
	if !found {
		t.Errorf("missing item count change in %v", result.Changes)
	}

	libraries, err := f.store.LibrariesByServer(ctx, f.server.ID)
	if err != nil {
		t.Fatalf("LibrariesByServer: %v", err)
	}
	if len(libraries) != 1 || libraries[0].ItemCount != 135 {
		t.Fatalf("cached libraries = %+v, want one with count 135", libraries)
	}
}

func TestSyncLibrariesIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.client.libraries = []media.RemoteLibrary{{ID: "1", Name: "Movies", Kind: "movie", ItemCount: 120}}
	f.syncer.SyncLibraries(ctx, f.server)

	second := f.syncer.SyncLibraries(ctx, f.server)
	if !second.Success {
		t.Fatalf("sync failed: %s", second.Message)
	}
	if second.Added+second.Updated+second.Removed != 0 {
		t.Fatalf("second pass counts = %d/%d/%d, want all zero", second.Added, second.Updated, second.Removed)
	}
}

func TestSyncUsersAddsAndLinksAccounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account, err := f.store.CreateAccount(ctx, &store.Account{Username: "nadia", Email: "nadia@example.com"})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	f.client.users = []media.RemoteUser{
		{ID: "1", Username: "nadia", Email: "nadia@example.com", LibraryIDs: []string{"1"}},
		{ID: "2", Username: "stranger", LibraryIDs: []string{"1"}},
	}
	result := f.syncer.SyncUsers(ctx, f.server)
	if !result.Success {
		t.Fatalf("sync failed: %s", result.Message)
	}
	if result.Added != 2 {
		t.Fatalf("added = %d, want 2", result.Added)
	}

	grants, err := f.store.AccessByServer(ctx, f.server.ID)
	if err != nil {
		t.Fatalf("AccessByServer: %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("got %d grants, want 2", len(grants))
	}
	for _, grant := range grants {
		switch grant.Username {
		case "nadia":
			if grant.AccountID == nil || *grant.AccountID != account.ID {
				t.Errorf("nadia's grant not linked to existing account: %+v", grant.AccountID)
			}
		case "stranger":
			if grant.AccountID != nil {
				t.Errorf("stranger's grant unexpectedly linked: %v", grant.AccountID)
			}
		}
	}
}

func TestSyncUsersLibraryAccessDiff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.client.libraries = []media.RemoteLibrary{
		{ID: "1", Name: "Movies", Kind: "movie"},
		{ID: "2", Name: "Shows", Kind: "show"},
	}
	f.client.users = []media.RemoteUser{{ID: "1", Username: "marco", LibraryIDs: []string{"1"}}}
	if result := f.syncer.SyncUsers(ctx, f.server); !result.Success {
		t.Fatalf("initial sync failed: %s", result.Message)
	}

	f.client.users = []media.RemoteUser{{ID: "1", Username: "marco", LibraryIDs: []string{"2", "3"}}}
	result := f.syncer.SyncUsers(ctx, f.server)
	if !result.Success {
		t.Fatalf("sync failed: %s", result.Message)
	}
	if result.Updated != 1 {
		t.Fatalf("updated = %d, want 1", result.Updated)
	}

	var gained, lost string
	for _, change := range result.Changes {
		if strings.Contains(change, "Gained access to:") {
			gained = change
		}
		if strings.Contains(change, "Lost access to:") {
			lost = change
		}
	}
	if !strings.Contains(gained, "Shows") || !strings.Contains(gained, "Unknown Library (ID: 3)") {
		t.Errorf("gained change = %q, want Shows and unknown library 3", gained)
	}
	if !strings.Contains(lost, "Movies") {
		t.Errorf("lost change = %q, want Movies", lost)
	}
}

func TestSyncUsersGuardsAgainstEmptyList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.client.users = []media.RemoteUser{{ID: "1", Username: "marco"}}
	if result := f.syncer.SyncUsers(ctx, f.server); !result.Success {
		t.Fatalf("seed sync failed: %s", result.Message)
	}

	f.client.users = nil
	result := f.syncer.SyncUsers(ctx, f.server)
	if result.Success {
		t.Fatal("empty user list must not be a successful sync")
	}

	grants, err := f.store.AccessByServer(ctx, f.server.ID)
	if err != nil {
		t.Fatalf("AccessByServer: %v", err)
	}
	if len(grants) != 1 {
		t.Fatalf("got %d grants after empty fetch, want 1 untouched", len(grants))
	}
}

func TestSyncUsersGuardsAgainstFetchError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.client.users = []media.RemoteUser{{ID: "1", Username: "marco"}}
	if result := f.syncer.SyncUsers(ctx, f.server); !result.Success {
		t.Fatalf("seed sync failed: %s", result.Message)
	}

	f.client.usersErr = errors.New("deadline exceeded")
	result := f.syncer.SyncUsers(ctx, f.server)
	if result.Success {
		t.Fatal("fetch error must not be a successful sync")
	}

	grants, err := f.store.AccessByServer(ctx, f.server.ID)
	if err != nil {
		t.Fatalf("AccessByServer: %v", err)
	}
	if len(grants) != 1 {
		t.Fatalf("got %d grants after failed fetch, want 1 untouched", len(grants))
	}
}

func TestSyncUsersGuardsAgainstFailedConnectionTest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.client.users = []media.RemoteUser{{ID: "1", Username: "marco"}}
	if result := f.syncer.SyncUsers(ctx, f.server); !result.Success {
		t.Fatalf("seed sync failed: %s", result.Message)
	}

	f.client.ok = false
	f.client.okMessage = "401 unauthorized"
	result := f.syncer.SyncUsers(ctx, f.server)
	if result.Success {
		t.Fatal("failed connection test must not be a successful sync")
	}
	if !strings.Contains(result.Message, "401") {
		t.Errorf("message = %q, want the probe failure reason", result.Message)
	}

	grants, err := f.store.AccessByServer(ctx, f.server.ID)
	if err != nil {
		t.Fatalf("AccessByServer: %v", err)
	}
	if len(grants) != 1 {
		t.Fatalf("got %d grants, want 1 untouched", len(grants))
	}
}

func TestSyncUsersRemovesDepartedAndOrphanedAccounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.client.users = []media.RemoteUser{
		{ID: "1", Username: "keeper"},
		{ID: "2", Username: "leaver", Email: "leaver@example.com"},
	}
	if result := f.syncer.SyncUsers(ctx, f.server); !result.Success {
		t.Fatalf("seed sync failed: %s", result.Message)
	}

	// Link the departing grant to an account with no other grants.
	account, err := f.store.CreateAccount(ctx, &store.Account{Username: "leaver"})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	grants, err := f.store.AccessByServer(ctx, f.server.ID)
	if err != nil {
		t.Fatalf("AccessByServer: %v", err)
	}
	for _, grant := range grants {
		if grant.Username == "leaver" {
			grant.AccountID = &account.ID
			if err := f.store.UpdateAccess(ctx, grant); err != nil {
				t.Fatalf("UpdateAccess: %v", err)
			}
		}
	}

	f.client.users = []media.RemoteUser{{ID: "1", Username: "keeper"}}
	result := f.syncer.SyncUsers(ctx, f.server)
	if !result.Success {
		t.Fatalf("sync failed: %s", result.Message)
	}
	if result.Removed != 1 {
		t.Fatalf("removed = %d, want 1", result.Removed)
	}

	grants, err = f.store.AccessByServer(ctx, f.server.ID)
	if err != nil {
		t.Fatalf("AccessByServer: %v", err)
	}
	if len(grants) != 1 || grants[0].Username != "keeper" {
		t.Fatalf("grants = %+v, want only keeper", grants)
	}

	orphan, err := f.store.GetAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if orphan != nil {
		t.Fatal("expected orphaned account deleted with its last grant")
	}
}

func TestSyncUsersKeepsAccountWithRemainingGrants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other, err := f.store.CreateServer(ctx, &store.Server{
		Name:        "loft",
		ServiceType: media.ServiceJellyfin,
		BaseURL:     "http://localhost:8096",
		IsActive:    true,
	})
	if err != nil {
		t.Fatalf("CreateServer: %v", err)
	}

	account, err := f.store.CreateAccount(ctx, &store.Account{Username: "ruth"})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if _, err := f.store.CreateAccess(ctx, &store.ServiceAccess{
		ServerID:       f.server.ID,
		AccountID:      &account.ID,
		ExternalUserID: "7",
		Username:       "ruth",
		IsActive:       true,
	}); err != nil {
		t.Fatalf("CreateAccess den: %v", err)
	}
	if _, err := f.store.CreateAccess(ctx, &store.ServiceAccess{
		ServerID:       other.ID,
		AccountID:      &account.ID,
		ExternalUserID: "9",
		Username:       "ruth",
		IsActive:       true,
	}); err != nil {
		t.Fatalf("CreateAccess loft: %v", err)
	}

	// ruth vanishes from den but still holds a grant on loft.
	f.client.users = []media.RemoteUser{{ID: "999", Username: "someone-else"}}
	result := f.syncer.SyncUsers(ctx, f.server)
	if !result.Success {
		t.Fatalf("sync failed: %s", result.Message)
	}

	kept, err := f.store.GetAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if kept == nil {
		t.Fatal("account with remaining grants must survive")
	}
}

func TestSyncUsersIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.client.libraries = []media.RemoteLibrary{{ID: "1", Name: "Movies"}}
	f.client.users = []media.RemoteUser{
		{ID: "1", Username: "marco", Email: "marco@example.com", LibraryIDs: []string{"1"}},
	}
	if result := f.syncer.SyncUsers(ctx, f.server); !result.Success {
		t.Fatalf("seed sync failed: %s", result.Message)
	}

	second := f.syncer.SyncUsers(ctx, f.server)
	if !second.Success {
		t.Fatalf("second sync failed: %s", second.Message)
	}
	if second.Added+second.Updated+second.Removed != 0 {
		t.Fatalf("second pass counts = %d/%d/%d, want all zero", second.Added, second.Updated, second.Removed)
	}
}

func TestSyncAllAggregates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.client.libraries = []media.RemoteLibrary{{ID: "1", Name: "Movies"}}
	f.client.users = []media.RemoteUser{{ID: "1", Username: "marco"}}

	summary, err := f.syncer.SyncAll(ctx)
	if err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if len(summary.Servers) != 1 {
		t.Fatalf("got %d outcomes, want 1", len(summary.Servers))
	}
	if !summary.Servers[0].Success() {
		t.Fatalf("outcome failed: %+v", summary.Servers[0])
	}
	if len(summary.Failures()) != 0 {
		t.Fatalf("failures = %v, want none", summary.Failures())
	}
}
