// Package sweeper deprovisions access grants whose expiration has passed.
// Removal on the remote server is best-effort; the local grant is deleted
// regardless so an unreachable server cannot keep access alive forever.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"usher/internal/logging"
	"usher/internal/media"
	"usher/internal/store"
)

// ClientFactory builds a vendor client for one server row.
type ClientFactory func(server *store.Server) (media.Client, error)

// Sweeper removes expired access grants.
type Sweeper struct {
	store   *store.Store
	clients ClientFactory
	logger  *slog.Logger
	now     func() time.Time
}

// New returns an expiration sweeper.
func New(st *store.Store, clients ClientFactory, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:   st,
		clients: clients,
		logger:  logger.With(logging.FieldComponent, "sweeper"),
		now:     time.Now,
	}
}

// Result summarizes one sweep pass.
type Result struct {
	Expired         int
	RemovedRemotely int
	RemoteFailures  int
	// Removed lists the revoked users as "username (server)".
	Removed []string
}

// Sweep finds grants past their expiration, revokes them on the remote
// server where possible, and deletes them locally along with any account
// left holding no grants. Expiration is one-way; restoring access takes a
// fresh invite.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var result Result

	expired, err := s.store.ExpiredAccess(ctx, s.now().UTC())
	if err != nil {
		return result, fmt.Errorf("find expired access: %w", err)
	}
	if len(expired) == 0 {
		return result, nil
	}

	servers := make(map[int64]*store.Server)
	for _, grant := range expired {
		server, ok := servers[grant.ServerID]
		if !ok {
			server, err = s.store.GetServer(ctx, grant.ServerID)
			if err != nil {
				return result, fmt.Errorf("load server %d: %w", grant.ServerID, err)
			}
			servers[grant.ServerID] = server
		}

		serverName := "unknown"
		if server != nil {
			serverName = server.Name
			if removed := s.removeRemote(ctx, server, grant); removed {
				result.RemovedRemotely++
			} else {
				result.RemoteFailures++
			}
		}

		if err := s.removeLocal(ctx, grant); err != nil {
			return result, err
		}
		result.Expired++
		result.Removed = append(result.Removed, fmt.Sprintf("%s (%s)", grant.Username, serverName))

		s.logger.Info("expired access removed",
			logging.FieldServer, serverName,
			"username", grant.Username,
			"expired_at", grant.ExpiresAt)
	}

	return result, nil
}

func (s *Sweeper) removeRemote(ctx context.Context, server *store.Server, grant *store.ServiceAccess) bool {
	client, err := s.clients(server)
	if err != nil {
		s.logger.Warn("remote removal skipped",
			logging.FieldServer, server.Name,
			"username", grant.Username,
			logging.Error(err))
		return false
	}
	if err := client.RemoveUser(ctx, grant.ExternalUserID); err != nil {
		s.logger.Warn("remote removal failed, deleting locally anyway",
			logging.FieldServer, server.Name,
			"username", grant.Username,
			logging.Error(err))
		return false
	}
	return true
}

func (s *Sweeper) removeLocal(ctx context.Context, grant *store.ServiceAccess) error {
	return s.store.WithTx(ctx, func(tx *store.Tx) error {
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
			return tx.DeleteAccount(ctx, *grant.AccountID)
		}
		return nil
	})
}
