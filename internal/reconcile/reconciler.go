// Package reconcile turns periodic playback snapshots into durable stream
// history. Each tick diffs the sessions currently reported by every active
// server against the sessions seen on the previous tick, closing events that
// disappeared, opening events for new arrivals, and advancing progress for
// everything still playing.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"usher/internal/logging"
	"usher/internal/media"
	"usher/internal/store"
)

// ClientFactory builds a vendor client for one server row.
type ClientFactory func(server *store.Server) (media.Client, error)

// Reconciler tracks live sessions across ticks. It owns the session-key map
// and is not safe for concurrent Tick calls; the scheduler runs ticks
// sequentially per job.
type Reconciler struct {
	store   *store.Store
	clients ClientFactory
	logger  *slog.Logger
	now     func() time.Time

	// active maps a server-qualified session key to its open StreamEvent id.
	// Keys are added only after the tick's transaction commits, so a failed
	// commit leaves the map describing exactly what is persisted.
	active map[string]int64
}

// New returns a reconciler with an empty session map. Events left open by a
// previous process stay open until closed by hand; the map does not survive
// restarts.
func New(st *store.Store, clients ClientFactory, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:   st,
		clients: clients,
		logger:  logger.With(logging.FieldComponent, "reconcile"),
		now:     time.Now,
		active:  make(map[string]int64),
	}
}

type observation struct {
	server  *store.Server
	session media.Session
}

// Tick polls every active server and reconciles the results against the
// previous snapshot. All database writes for the tick share one transaction.
func (r *Reconciler) Tick(ctx context.Context) error {
	servers, err := r.store.ListServers(ctx, true)
	if err != nil {
		return fmt.Errorf("list servers: %w", err)
	}

	current := make(map[string]observation)
	reachable := make(map[int64]bool)

	for _, server := range servers {
		sessions, pollErr := r.poll(ctx, server)
		checkedAt := r.now().UTC()
		if pollErr != nil {
			r.logger.Warn("session poll failed",
				logging.FieldServer, server.Name,
				logging.FieldServerID, server.ID,
				logging.Error(pollErr))
			if statusErr := r.store.UpdateServerStatus(ctx, server.ID, false, pollErr.Error(), checkedAt); statusErr != nil {
				r.logger.Error("record server status", logging.Error(statusErr))
			}
			continue
		}
		if statusErr := r.store.UpdateServerStatus(ctx, server.ID, true, "", checkedAt); statusErr != nil {
			r.logger.Error("record server status", logging.Error(statusErr))
		}
		reachable[server.ID] = true

		for _, session := range sessions {
			if session.SessionKey == "" {
				continue
			}
			current[sessionKey(server.ID, session.SessionKey)] = observation{server: server, session: session}
		}
	}

	now := r.now().UTC()
	var closedKeys []string
	opened := make(map[string]int64)

	err = r.store.WithTx(ctx, func(tx *store.Tx) error {
		// Stopped first: keys we tracked that no reachable server reports
		// anymore. Keys on servers that failed this poll are left alone so a
		// network blip does not finalize a session that is still playing.
		for key, eventID := range r.active {
			if _, live := current[key]; live {
				continue
			}
			serverID, ok := keyServerID(key)
			if ok && !reachable[serverID] {
				continue
			}
			if err := r.closeEvent(ctx, tx, key, eventID, now); err != nil {
				return err
			}
			closedKeys = append(closedKeys, key)
		}

		// New sessions, then progress for ongoing ones.
		for key, obs := range current {
			if _, known := r.active[key]; known {
				continue
			}
			eventID, err := r.openEvent(ctx, tx, obs, now)
			if err != nil {
				return err
			}
			if eventID != 0 {
				opened[key] = eventID
			}
		}

		for key, obs := range current {
			eventID, known := r.active[key]
			if !known {
				continue
			}
			if err := r.advanceEvent(ctx, tx, eventID, obs, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Error("reconcile tick rolled back", logging.Error(err))
		return err
	}

	for _, key := range closedKeys {
		delete(r.active, key)
	}
	for key, id := range opened {
		r.active[key] = id
	}
	return nil
}

func (r *Reconciler) poll(ctx context.Context, server *store.Server) ([]media.Session, error) {
	client, err := r.clients(server)
	if err != nil {
		return nil, fmt.Errorf("build client: %w", err)
	}
	return client.ActiveSessions(ctx)
}

// closeEvent finalizes a tracked event. Duration is the last progress offset
// we recorded, not elapsed wall clock, since pauses and the unobservable stop
// instant make wall clock wrong.
func (r *Reconciler) closeEvent(ctx context.Context, tx *store.Tx, key string, eventID int64, now time.Time) error {
	event, err := tx.GetStreamEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if event == nil || event.StoppedAt != nil {
		return nil
	}

	duration := event.OffsetSeconds
	if duration < 0 {
		duration = 0
	}
	if err := tx.CloseStreamEvent(ctx, eventID, now, duration); err != nil {
		return err
	}

	r.logger.Info("session stopped",
		logging.FieldSessionKey, key,
		logging.FieldServerID, event.ServerID,
		"title", event.MediaTitle,
		"duration_seconds", duration)
	return nil
}

// openEvent resolves the session's user to an access grant and records a new
// StreamEvent. An unresolvable user is skipped; the key stays out of the map
// and is retried as new on the next tick.
func (r *Reconciler) openEvent(ctx context.Context, tx *store.Tx, obs observation, now time.Time) (int64, error) {
	access, err := resolveAccess(ctx, tx, obs)
	if err != nil {
		return 0, err
	}
	if access == nil {
		r.logger.Warn("session user not recognized, skipping",
			logging.FieldServer, obs.server.Name,
			logging.FieldSessionKey, obs.session.SessionKey,
			"external_user_id", obs.session.UserID,
			"username", obs.session.UserName)
		return 0, nil
	}

	event := &store.StreamEvent{
		ServerID:       obs.server.ID,
		AccountID:      access.AccountID,
		AccessID:       &access.ID,
		SessionKey:     obs.session.SessionKey,
		RatingKey:      obs.session.RatingKey,
		StartedAt:      now,
		OffsetSeconds:  obs.session.OffsetSeconds,
		MediaTitle:     obs.session.MediaTitle,
		MediaType:      obs.session.MediaType,
		SeriesTitle:    obs.session.SeriesTitle,
		SeasonTitle:    obs.session.SeasonTitle,
		Platform:       obs.session.Platform,
		Product:        obs.session.Product,
		Player:         obs.session.Player,
		IPAddress:      obs.session.IPAddress,
		IsLAN:          obs.session.IsLAN,
		RuntimeSeconds: obs.session.RuntimeSeconds,
	}
	inserted, err := tx.InsertStreamEvent(ctx, event)
	if err != nil {
		return 0, err
	}

	if err := tx.TouchAccessActivity(ctx, access.ID, now); err != nil {
		return 0, err
	}
	if access.AccountID != nil {
		if err := tx.TouchAccountStreamed(ctx, *access.AccountID, now); err != nil {
			return 0, err
		}
	}

	r.logger.Info("session started",
		logging.FieldServer, obs.server.Name,
		logging.FieldSessionKey, obs.session.SessionKey,
		"username", access.Username,
		"title", obs.session.MediaTitle)
	return inserted.ID, nil
}

func (r *Reconciler) advanceEvent(ctx context.Context, tx *store.Tx, eventID int64, obs observation, now time.Time) error {
	if err := tx.UpdateStreamProgress(ctx, eventID, obs.session.OffsetSeconds); err != nil {
		return err
	}

	event, err := tx.GetStreamEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if event == nil {
		return nil
	}
	if event.AccessID != nil {
		if err := tx.TouchAccessActivity(ctx, *event.AccessID, now); err != nil {
			return err
		}
	}
	if event.AccountID != nil {
		if err := tx.TouchAccountStreamed(ctx, *event.AccountID, now); err != nil {
			return err
		}
	}
	return nil
}

// resolveAccess matches a session to a grant by external id, then alternate
// id, then username.
func resolveAccess(ctx context.Context, tx *store.Tx, obs observation) (*store.ServiceAccess, error) {
	access, err := tx.FindAccess(ctx, obs.server.ID, obs.session.UserID, obs.session.AltUserID)
	if err != nil {
		return nil, err
	}
	if access != nil {
		return access, nil
	}
	return tx.FindAccessByUsername(ctx, obs.server.ID, obs.session.UserName)
}

// sessionKey qualifies a vendor session key with the server id so identical
// keys from different servers never collide.
func sessionKey(serverID int64, key string) string {
	return strconv.FormatInt(serverID, 10) + ":" + key
}

func keyServerID(key string) (int64, bool) {
	idx := strings.IndexByte(key, ':')
	if idx <= 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(key[:idx], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
