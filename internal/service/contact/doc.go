// Package contact implements the contact-aggregate business logic: the
// legacy waitlist reconciler, the sparse patch engine, and the service
// facade used by the HTTP layer.
//
// The reconciler translates between the legacy vpn_waitlist/relay_waitlist
// scalar fields and the normalized waitlists collection, in both
// directions. Old clients keep sending the scalar shape indefinitely, so
// every inbound create/update runs through it before persistence, and
// every response recomputes the scalars from the normalized rows.
//
// The service layer contains pure business logic and depends on the
// Repository interface defined in repository.go. It never imports
// net/http or database/sql directly.
package contact
