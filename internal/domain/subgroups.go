package domain

import "time"

// Sub-group rows exist iff they are non-default: writing all-default
// values deletes the row instead of persisting empty data.

// AMOAccount holds addons.mozilla.org data for a contact.
type AMOAccount struct {
	AddOnIDs        *string   `json:"add_on_ids"`
	DisplayName     *string   `json:"display_name"`
	EmailOptIn      bool      `json:"email_opt_in"`
	Language        *string   `json:"language"`
	LastLogin       *string   `json:"last_login"`
	Location        *string   `json:"location"`
	ProfileURL      *string   `json:"profile_url"`
	User            bool      `json:"user"`
	UserID          *string   `json:"user_id"`
	Username        *string   `json:"username"`
	CreateTimestamp time.Time `json:"create_timestamp"`
	UpdateTimestamp time.Time `json:"update_timestamp"`
}

// IsDefault reports whether every field (timestamps excluded) equals its
// schema default. All-default sub-groups must not be persisted.
func (a *AMOAccount) IsDefault() bool {
	return a.AddOnIDs == nil &&
		a.DisplayName == nil &&
		!a.EmailOptIn &&
		a.Language == nil &&
		a.LastLogin == nil &&
		a.Location == nil &&
		a.ProfileURL == nil &&
		!a.User &&
		a.UserID == nil &&
		a.Username == nil
}

// FxAAccount holds Firefox Accounts data for a contact.
type FxAAccount struct {
	FxAID           *string   `json:"fxa_id"`
	PrimaryEmail    *string   `json:"primary_email"`
	CreatedDate     *string   `json:"created_date"`
	Lang            *string   `json:"lang"`
	FirstService    *string   `json:"first_service"`
	AccountDeleted  bool      `json:"account_deleted"`
	CreateTimestamp time.Time `json:"create_timestamp"`
	UpdateTimestamp time.Time `json:"update_timestamp"`
}

// IsDefault reports whether every field equals its schema default.
func (f *FxAAccount) IsDefault() bool {
	return f.FxAID == nil &&
		f.PrimaryEmail == nil &&
		f.CreatedDate == nil &&
		f.Lang == nil &&
		f.FirstService == nil &&
		!f.AccountDeleted
}

// MofoContact holds Mozilla Foundation identifiers for a contact.
type MofoContact struct {
	MofoEmailID     *string   `json:"mofo_email_id"`
	MofoContactID   *string   `json:"mofo_contact_id"`
	MofoRelevant    bool      `json:"mofo_relevant"`
	CreateTimestamp time.Time `json:"create_timestamp"`
	UpdateTimestamp time.Time `json:"update_timestamp"`
}

// IsDefault reports whether every field equals its schema default.
func (m *MofoContact) IsDefault() bool {
	return m.MofoEmailID == nil && m.MofoContactID == nil && !m.MofoRelevant
}
