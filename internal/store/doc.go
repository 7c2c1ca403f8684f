// Package store persists the local cache of media servers, libraries,
// accounts, access grants, and stream events in SQLite. It is a passive
// state store: reconciliation and sync logic live in the packages that call
// it.
package store
