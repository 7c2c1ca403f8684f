// Package catalog mirrors remote server state (libraries and user accounts)
// into the local cache. Syncs are reconciling: remote is authoritative for
// what exists, with one deliberate exception. An empty or failed user fetch
// never deletes anything, because "no users" and "degraded call" look the
// same on the wire.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"usher/internal/logging"
	"usher/internal/media"
	"usher/internal/store"
)

// ClientFactory builds a vendor client for one server row.
type ClientFactory func(server *store.Server) (media.Client, error)

// Syncer reconciles remote catalogs into the local cache.
type Syncer struct {
	store   *store.Store
	clients ClientFactory
	logger  *slog.Logger
	now     func() time.Time
}

// New returns a catalog syncer.
func New(st *store.Store, clients ClientFactory, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		store:   st,
		clients: clients,
		logger:  logger.With(logging.FieldComponent, "catalog"),
		now:     time.Now,
	}
}

// LibraryResult reports one server's library sync.
type LibraryResult struct {
	ServerName string
	Success    bool
	Message    string
	Added      int
	Updated    int
	Removed    int
	Changes    []string
	// RemovedNames lists deleted libraries tagged with the server name,
	// e.g. "Anime (den)".
	RemovedNames []string
}

// UserResult reports one server's user sync.
type UserResult struct {
	ServerName string
	Success    bool
	Message    string
	Added      int
	Updated    int
	Removed    int
	Changes    []string
}

// ServerOutcome pairs both sync results for one server.
type ServerOutcome struct {
	ServerID   int64
	ServerName string
	Libraries  LibraryResult
	Users      UserResult
}

// Success reports whether both halves of the sync succeeded.
func (o ServerOutcome) Success() bool {
	return o.Libraries.Success && o.Users.Success
}

// Summary aggregates a full sync pass across servers.
type Summary struct {
	Servers []ServerOutcome
}

// Failures returns the outcomes that did not fully succeed.
func (s Summary) Failures() []ServerOutcome {
	var failed []ServerOutcome
	for _, outcome := range s.Servers {
		if !outcome.Success() {
			failed = append(failed, outcome)
		}
	}
	return failed
}

// SyncLibraries fetches the server's libraries and reconciles the cache:
// upsert by external id, delete what the remote no longer reports. All
// writes share one transaction.
func (s *Syncer) SyncLibraries(ctx context.Context, server *store.Server) LibraryResult {
	result := LibraryResult{ServerName: server.Name}

	client, err := s.clients(server)
	if err != nil {
		result.Message = err.Error()
		return result
	}
	remote, err := client.Libraries(ctx)
	if err != nil {
		result.Message = fmt.Sprintf("fetch libraries: %v", err)
		s.logger.Warn("library sync failed",
			logging.FieldServer, server.Name, logging.Error(err))
		return result
	}

	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		cached, err := tx.LibrariesByServer(ctx, server.ID)
		if err != nil {
			return err
		}
		cachedByExternal := make(map[string]*store.Library, len(cached))
		for _, library := range cached {
			cachedByExternal[library.ExternalID] = library
		}

		remoteIDs := make(map[string]struct{}, len(remote))
		for _, item := range remote {
			remoteIDs[item.ID] = struct{}{}

			existing, known := cachedByExternal[item.ID]
			if !known {
				if _, err := tx.InsertLibrary(ctx, &store.Library{
					ServerID:   server.ID,
					ExternalID: item.ID,
					Name:       item.Name,
					Kind:       item.Kind,
					ItemCount:  item.ItemCount,
				}); err != nil {
					return err
				}
				result.Added++
				result.Changes = append(result.Changes, fmt.Sprintf("Added library %s", item.Name))
				continue
			}

			changes := describeLibraryChanges(existing, item)
			if len(changes) == 0 {
				continue
			}
			existing.Name = item.Name
			existing.Kind = item.Kind
			existing.ItemCount = item.ItemCount
			if err := tx.UpdateLibrary(ctx, existing); err != nil {
				return err
			}
			result.Updated++
			result.Changes = append(result.Changes, changes...)
		}

		for _, library := range cached {
			if _, still := remoteIDs[library.ExternalID]; still {
				continue
			}
			if err := tx.DeleteLibrary(ctx, library.ID); err != nil {
				return err
			}
			result.Removed++
			result.RemovedNames = append(result.RemovedNames, fmt.Sprintf("%s (%s)", library.Name, server.Name))
		}

		return tx.MarkServerSynced(ctx, server.ID, s.now().UTC())
	})
	if err != nil {
		return LibraryResult{ServerName: server.Name, Message: err.Error()}
	}

	result.Success = true
	s.logger.Info("libraries synced",
		logging.FieldServer, server.Name,
		"added", result.Added, "updated", result.Updated, "removed", result.Removed)
	return result
}

// SyncUsers fetches the server's users and reconciles access grants. A failed
// connection test, a fetch error, or an empty user list aborts with zero
// writes. All writes share one transaction.
func (s *Syncer) SyncUsers(ctx context.Context, server *store.Server) UserResult {
	result := UserResult{ServerName: server.Name}

	client, err := s.clients(server)
	if err != nil {
		result.Message = err.Error()
		return result
	}

	if ok, message := client.TestConnection(ctx); !ok {
		result.Message = fmt.Sprintf("connection test failed: %s", message)
		s.logger.Warn("user sync skipped, server unreachable",
			logging.FieldServer, server.Name, "reason", message)
		return result
	}

	users, err := client.Users(ctx)
	if err != nil {
		result.Message = fmt.Sprintf("fetch users: %v", err)
		s.logger.Warn("user sync failed",
			logging.FieldServer, server.Name, logging.Error(err))
		return result
	}
	if len(users) == 0 {
		// Indistinguishable from a degraded call; refusing here is what
		// keeps a flaky server from wiping every grant.
		result.Message = "server returned no users, refusing to remove all access"
		s.logger.Warn("user sync skipped, empty user list",
			logging.FieldServer, server.Name)
		return result
	}

	// Library names feed the change descriptions, so fill an empty cache
	// before diffing.
	cachedLibraries, err := s.store.LibrariesByServer(ctx, server.ID)
	if err != nil {
		result.Message = err.Error()
		return result
	}
	if len(cachedLibraries) == 0 {
		s.SyncLibraries(ctx, server)
	}

	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		libraryNames, err := libraryNameIndex(ctx, tx, server.ID)
		if err != nil {
			return err
		}
		grants, err := tx.AccessByServer(ctx, server.ID)
		if err != nil {
			return err
		}
		byExternal := make(map[string]*store.ServiceAccess, len(grants))
		byAlt := make(map[string]*store.ServiceAccess)
		for _, grant := range grants {
			byExternal[grant.ExternalUserID] = grant
			if grant.AltExternalID != "" {
				byAlt[grant.AltExternalID] = grant
			}
		}

		seen := make(map[uuid.UUID]struct{}, len(users))
		for _, user := range users {
			grant := byExternal[user.ID]
			if grant == nil && user.AltID != "" {
				grant = byAlt[user.AltID]
			}

			if grant == nil {
				added, err := s.createGrant(ctx, tx, server, user)
				if err != nil {
					return err
				}
				seen[added.ID] = struct{}{}
				result.Added++
				result.Changes = append(result.Changes, fmt.Sprintf("Added user %s", user.Username))
				continue
			}

			seen[grant.ID] = struct{}{}
			changes := describeUserChanges(grant, user, libraryNames)
			if len(changes) == 0 {
				continue
			}
			grant.ExternalUserID = user.ID
			grant.AltExternalID = user.AltID
			grant.Username = user.Username
			grant.Email = user.Email
			grant.LibraryIDs = user.LibraryIDs
			if err := tx.UpdateAccess(ctx, grant); err != nil {
				return err
			}
			result.Updated++
			result.Changes = append(result.Changes, changes...)
		}

		// Removal pass runs only on a successful non-empty fetch.
		for _, grant := range grants {
			if _, still := seen[grant.ID]; still {
				continue
			}
			if err := s.removeGrant(ctx, tx, grant); err != nil {
				return err
			}
			result.Removed++
			result.Changes = append(result.Changes, fmt.Sprintf("Removed user %s", grant.Username))
		}

		return tx.MarkServerSynced(ctx, server.ID, s.now().UTC())
	})
	if err != nil {
		return UserResult{ServerName: server.Name, Message: err.Error()}
	}

	result.Success = true
	s.logger.Info("users synced",
		logging.FieldServer, server.Name,
		"added", result.Added, "updated", result.Updated, "removed", result.Removed)
	return result
}

// SyncAll syncs libraries then users for every active server. Each server
// succeeds or fails on its own.
func (s *Syncer) SyncAll(ctx context.Context) (Summary, error) {
	servers, err := s.store.ListServers(ctx, true)
	if err != nil {
		return Summary{}, fmt.Errorf("list servers: %w", err)
	}

	var summary Summary
	for _, server := range servers {
		outcome := ServerOutcome{
			ServerID:   server.ID,
			ServerName: server.Name,
			Libraries:  s.SyncLibraries(ctx, server),
			Users:      s.SyncUsers(ctx, server),
		}
		summary.Servers = append(summary.Servers, outcome)
	}
	return summary, nil
}

// createGrant links the new grant to an existing account by username, then
// email; otherwise the grant stands alone.
func (s *Syncer) createGrant(ctx context.Context, tx *store.Tx, server *store.Server, user media.RemoteUser) (*store.ServiceAccess, error) {
	account, err := tx.FindAccountByUsername(ctx, user.Username)
	if err != nil {
		return nil, err
	}
	if account == nil && user.Email != "" {
		account, err = tx.FindAccountByEmail(ctx, user.Email)
		if err != nil {
			return nil, err
		}
	}

	grant := &store.ServiceAccess{
		ServerID:       server.ID,
		ExternalUserID: user.ID,
		AltExternalID:  user.AltID,
		Username:       user.Username,
		Email:          user.Email,
		LibraryIDs:     user.LibraryIDs,
		IsActive:       true,
	}
	if account != nil {
		grant.AccountID = &account.ID
	}
	return tx.CreateAccess(ctx, grant)
}

// removeGrant deletes a grant and, when its account holds no other grants,
// the account as well.
func (s *Syncer) removeGrant(ctx context.Context, tx *store.Tx, grant *store.ServiceAccess) error {
	if err := tx.DeleteAccess(ctx, grant.ID); err != nil {
		return err
	}
	if grant.AccountID == nil {
		return nil
	}
	remaining, err := tx.CountAccessByAccount(ctx, *grant.AccountID)
	if err != nil {
		return err
	}
	if remaining == 0 {
		if err := tx.DeleteAccount(ctx, *grant.AccountID); err != nil {
			return err
		}
		s.logger.Info("removed orphaned account", "account_id", grant.AccountID.String())
	}
	return nil
}

func libraryNameIndex(ctx context.Context, tx *store.Tx, serverID int64) (map[string]string, error) {
	libraries, err := tx.LibrariesByServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(libraries))
	for _, library := range libraries {
		names[library.ExternalID] = library.Name
	}
	return names, nil
}

func describeLibraryChanges(cached *store.Library, remote media.RemoteLibrary) []string {
	var changes []string
	if cached.Name != remote.Name {
		changes = append(changes, fmt.Sprintf("Library renamed from %s to %s", cached.Name, remote.Name))
	}
	if cached.Kind != remote.Kind {
		changes = append(changes, fmt.Sprintf("%s: type changed from %s to %s", remote.Name, cached.Kind, remote.Kind))
	}
	if cached.ItemCount != remote.ItemCount {
		changes = append(changes, fmt.Sprintf("%s: item count changed from %d to %d", remote.Name, cached.ItemCount, remote.ItemCount))
	}
	return changes
}

func describeUserChanges(grant *store.ServiceAccess, user media.RemoteUser, libraryNames map[string]string) []string {
	var changes []string
	if grant.Username != user.Username {
		changes = append(changes, fmt.Sprintf("Username changed from %s to %s", grant.Username, user.Username))
	}
	if grant.Email != user.Email {
		changes = append(changes, fmt.Sprintf("%s: email updated", user.Username))
	}
	gained, lost := diffLibraryIDs(grant.LibraryIDs, user.LibraryIDs)
	if len(gained) > 0 {
		changes = append(changes, fmt.Sprintf("%s: Gained access to: %s", user.Username, joinLibraryNames(gained, libraryNames)))
	}
	if len(lost) > 0 {
		changes = append(changes, fmt.Sprintf("%s: Lost access to: %s", user.Username, joinLibraryNames(lost, libraryNames)))
	}
	if grant.ExternalUserID != user.ID || grant.AltExternalID != user.AltID {
		changes = append(changes, fmt.Sprintf("%s: identifiers updated", user.Username))
	}
	return changes
}

func diffLibraryIDs(previous, current []string) (gained, lost []string) {
	prev := make(map[string]struct{}, len(previous))
	for _, id := range previous {
		prev[id] = struct{}{}
	}
	curr := make(map[string]struct{}, len(current))
	for _, id := range current {
		curr[id] = struct{}{}
	}
	for id := range curr {
		if _, ok := prev[id]; !ok {
			gained = append(gained, id)
		}
	}
	for id := range prev {
		if _, ok := curr[id]; !ok {
			lost = append(lost, id)
		}
	}
	sort.Strings(gained)
	sort.Strings(lost)
	return gained, lost
}

func joinLibraryNames(ids []string, names map[string]string) string {
	out := ""
	for i, id := range ids {
		name, ok := names[id]
		if !ok {
			name = fmt.Sprintf("Unknown Library (ID: %s)", id)
		}
		if i > 0 {
			out += ", "
		}
		out += name
	}
	return out
}
