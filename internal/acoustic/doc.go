// Package acoustic flattens contact aggregates into the row shapes the
// Acoustic (Silverpop) marketing platform accepts and uploads them over
// the XML API.
//
// Rules for this package:
//   - Conversion is pure: no I/O, no mutation of the input aggregate.
//   - Mapping misses never fail a conversion. Unknown main-table fields
//     and unmapped newsletters are collected as skip diagnostics so a
//     stale allow-list degrades to a partial upload, not a stuck queue.
//   - The external system has no null and no timestamp type: string
//     columns render nil as "" and timestamps as dates.
package acoustic
