// Package media defines the client contract each media server vendor adapter
// implements, along with the normalized session, user, and library records
// the rest of usher consumes. Vendor-specific payload shapes never leave the
// adapter packages.
package media
