// Package httputil carries the JSON helpers shared by the contact API
// handlers: the error envelope, status-specific response writers, and
// request body decoding.
package httputil
