// Package domain defines the core business types for the CTMS contact store.
//
// Types in this package are pure value objects: the contact aggregate, its
// sub-entities, and the sparse-patch payload types. They carry no database
// or HTTP concerns.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON tags are allowed (they're metadata, not behavior)
//   - Validation methods are allowed (they're pure functions on the type)
package domain
