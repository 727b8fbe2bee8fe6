package domain

import (
	"fmt"
	"strings"
	"time"
)

// Well-known waitlist names with legacy scalar projections.
const (
	WaitlistVPN         = "vpn"
	RelayPrefix         = "relay"
	waitlistSuffix      = "-waitlist"
	guardianVPNSlug     = "guardian-vpn"
	maxWaitlistFieldLen = 100
)

// Waitlist is one named product-interest membership. Name is unique per
// contact. Fields is an open map holding waitlist-specific attributes
// (geo, platform, ...) that replaced the old per-product scalar columns.
type Waitlist struct {
	Name            string         `json:"name"`
	Source          *string        `json:"source"`
	Fields          map[string]any `json:"fields"`
	Subscribed      bool           `json:"subscribed"`
	UnsubReason     *string        `json:"unsub_reason"`
	CreateTimestamp time.Time      `json:"create_timestamp"`
	UpdateTimestamp time.Time      `json:"update_timestamp"`
}

// IsRelay reports whether this waitlist is aliased by the legacy
// relay_waitlist scalar ("relay" itself and any "relay-*" bundle).
func (w *Waitlist) IsRelay() bool {
	return strings.HasPrefix(w.Name, RelayPrefix)
}

// FieldString returns the named entry of the open fields map as a string,
// or nil when absent or not a string.
func (w *Waitlist) FieldString(key string) *string {
	if w.Fields == nil {
		return nil
	}
	if v, ok := w.Fields[key]; ok {
		if s, ok := v.(string); ok {
			return &s
		}
	}
	return nil
}

// IsDefault reports whether every non-identity field equals its schema
// default. A waitlist row exists iff it is non-default.
func (w *Waitlist) IsDefault() bool {
	return w.Subscribed &&
		w.Source == nil &&
		len(w.Fields) == 0 &&
		w.UnsubReason == nil
}

// Validate enforces the per-family field schemas. The two legacy-mapped
// families (vpn, relay*) have closed key sets; every other waitlist
// accepts arbitrary extra keys so new products can onboard without a
// service redeployment.
func (w *Waitlist) Validate() error {
	if w.Name == "" {
		return &ValidationError{Field: "waitlists.name", Msg: "name is required"}
	}
	var allowed map[string]bool
	switch {
	case w.Name == WaitlistVPN:
		allowed = map[string]bool{"geo": true, "platform": true}
	case w.IsRelay():
		allowed = map[string]bool{"geo": true}
	}
	for key, value := range w.Fields {
		if allowed != nil && !allowed[key] {
			return &ValidationError{
				Field: "waitlists.fields." + key,
				Msg:   fmt.Sprintf("field not allowed for %q waitlist", w.Name),
			}
		}
		if key == "geo" || key == "platform" {
			if s, ok := value.(string); ok && len(s) > maxWaitlistFieldLen {
				return &ValidationError{
					Field: "waitlists.fields." + key,
					Msg:   fmt.Sprintf("longer than %d characters", maxWaitlistFieldLen),
				}
			}
		}
	}
	return nil
}

// WaitlistNameFromNewsletter maps a "<x>-waitlist" newsletter name to its
// coupled waitlist name. "guardian-vpn-waitlist" is a historical alias of
// the "vpn" waitlist. Returns "" when the newsletter is not waitlist-coupled.
func WaitlistNameFromNewsletter(newsletterName string) string {
	if !strings.HasSuffix(newsletterName, waitlistSuffix) {
		return ""
	}
	name := strings.TrimSuffix(newsletterName, waitlistSuffix)
	if name == guardianVPNSlug {
		return WaitlistVPN
	}
	return name
}

// VpnWaitlistView is the legacy read-only vpn_waitlist projection.
type VpnWaitlistView struct {
	Geo      *string `json:"geo"`
	Platform *string `json:"platform"`
}

// RelayWaitlistView is the legacy read-only relay_waitlist projection.
type RelayWaitlistView struct {
	Geo *string `json:"geo"`
}

// ValidationError is a field-level input rejection, surfaced as 422.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}
