package media

import "context"

// Client is the per-server contract the reconciliation and sync cores consume.
//
// ActiveSessions, Users, and Libraries signal degraded calls with an error;
// an empty slice is a successful empty result. The distinction matters: the
// catalog sync refuses to treat a failed fetch as "everything was removed".
type Client interface {
	// TestConnection probes the server. Failures are reported through the
	// ok/message pair, never by panicking or returning an error.
	TestConnection(ctx context.Context) (ok bool, message string)

	// ActiveSessions returns the currently playing sessions.
	ActiveSessions(ctx context.Context) ([]Session, error)

	// Users returns all user accounts known to the server.
	Users(ctx context.Context) ([]RemoteUser, error)

	// Libraries returns the server's content libraries.
	Libraries(ctx context.Context) ([]RemoteLibrary, error)

	// RemoveUser revokes a user's access on the server. Best-effort; callers
	// log failures and proceed with local cleanup.
	RemoveUser(ctx context.Context, externalID string) error
}
