package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

// The PATCH contract uses sentinel strings where objects or lists are
// normally expected: "DELETE" resets a sub-group, "UNSUBSCRIBE" flips
// every newsletter/waitlist to unsubscribed. These are modeled as tagged
// unions so no field ever changes type at runtime.

var (
	sentinelDelete      = []byte(`"DELETE"`)
	sentinelUnsubscribe = []byte(`"UNSUBSCRIBE"`)
	jsonNull            = []byte("null")
)

// SubGroupPatch is the patch value for amo/fxa/mofo: absent, "DELETE",
// or an object whose keys are merged onto the existing row.
type SubGroupPatch struct {
	Present bool
	Delete  bool
	Data    json.RawMessage
}

func (p *SubGroupPatch) decode(field string, raw json.RawMessage) error {
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, jsonNull) {
		return nil
	}
	p.Present = true
	if bytes.Equal(raw, sentinelDelete) {
		p.Delete = true
		return nil
	}
	if len(raw) == 0 || raw[0] != '{' {
		return &ValidationError{Field: field, Msg: `expected an object or "DELETE"`}
	}
	p.Data = raw
	return nil
}

// ListEntry is one element of a newsletters/waitlists patch list. Raw keeps
// the sparse entry for merge-onto-existing semantics; Name and Subscribed
// are pre-parsed because the create/update/drop rules key on them.
type ListEntry struct {
	Raw        json.RawMessage
	Name       string
	Subscribed *bool
}

// ListPatch is the patch value for newsletters/waitlists: absent,
// "UNSUBSCRIBE", or a list of sparse entries.
type ListPatch struct {
	Present        bool
	UnsubscribeAll bool
	Entries        []ListEntry
}

func (p *ListPatch) decode(field string, raw json.RawMessage) error {
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, jsonNull) {
		return nil
	}
	p.Present = true
	if bytes.Equal(raw, sentinelUnsubscribe) {
		p.UnsubscribeAll = true
		return nil
	}
	if len(raw) == 0 || raw[0] != '[' {
		return &ValidationError{Field: field, Msg: `expected a list or "UNSUBSCRIBE"`}
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(raw, &raws); err != nil {
		return &ValidationError{Field: field, Msg: "malformed list"}
	}
	for _, entryRaw := range raws {
		var head struct {
			Name       string `json:"name"`
			Subscribed *bool  `json:"subscribed"`
		}
		if err := json.Unmarshal(entryRaw, &head); err != nil {
			return &ValidationError{Field: field, Msg: "malformed entry"}
		}
		if head.Name == "" {
			return &ValidationError{Field: field + ".name", Msg: "name is required"}
		}
		p.Entries = append(p.Entries, ListEntry{Raw: entryRaw, Name: head.Name, Subscribed: head.Subscribed})
	}
	return nil
}

// VpnWaitlistValue is the legacy vpn_waitlist patch value: absent,
// "DELETE"/null, or a {geo, platform} object.
type VpnWaitlistValue struct {
	Present  bool
	Delete   bool
	Geo      *string `json:"geo"`
	Platform *string `json:"platform"`
}

// IsDefault reports whether the parsed value carries no data. Writing an
// all-default value over an existing waitlist means deletion.
func (v *VpnWaitlistValue) IsDefault() bool {
	return v.Geo == nil && v.Platform == nil
}

// UnmarshalJSON accepts null and "DELETE" as deletion requests.
func (v *VpnWaitlistValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	v.Present = true
	if bytes.Equal(b, jsonNull) || bytes.Equal(b, sentinelDelete) {
		v.Delete = true
		return nil
	}
	if len(b) == 0 || b[0] != '{' {
		return &ValidationError{Field: "vpn_waitlist", Msg: `expected an object, null, or "DELETE"`}
	}
	type alias VpnWaitlistValue
	var parsed alias
	if err := json.Unmarshal(b, &parsed); err != nil {
		return &ValidationError{Field: "vpn_waitlist", Msg: "malformed value"}
	}
	v.Geo, v.Platform = parsed.Geo, parsed.Platform
	if v.Geo != nil && len(*v.Geo) > maxWaitlistFieldLen {
		return &ValidationError{Field: "vpn_waitlist.geo", Msg: "too long"}
	}
	if v.Platform != nil && len(*v.Platform) > maxWaitlistFieldLen {
		return &ValidationError{Field: "vpn_waitlist.platform", Msg: "too long"}
	}
	return nil
}

// RelayWaitlistValue is the legacy relay_waitlist patch value: absent,
// "DELETE"/null, or a {geo} object.
type RelayWaitlistValue struct {
	Present bool
	Delete  bool
	Geo     *string `json:"geo"`
}

// IsDefault reports whether the parsed value carries no data.
func (v *RelayWaitlistValue) IsDefault() bool {
	return v.Geo == nil
}

// UnmarshalJSON accepts null and "DELETE" as deletion requests.
func (v *RelayWaitlistValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	v.Present = true
	if bytes.Equal(b, jsonNull) || bytes.Equal(b, sentinelDelete) {
		v.Delete = true
		return nil
	}
	if len(b) == 0 || b[0] != '{' {
		return &ValidationError{Field: "relay_waitlist", Msg: `expected an object, null, or "DELETE"`}
	}
	type alias RelayWaitlistValue
	var parsed alias
	if err := json.Unmarshal(b, &parsed); err != nil {
		return &ValidationError{Field: "relay_waitlist", Msg: "malformed value"}
	}
	v.Geo = parsed.Geo
	if v.Geo != nil && len(*v.Geo) > maxWaitlistFieldLen {
		return &ValidationError{Field: "relay_waitlist.geo", Msg: "too long"}
	}
	return nil
}

// ContactPatch is a sparse contact update. Only present keys matter;
// absent keys leave prior state untouched.
type ContactPatch struct {
	Email         json.RawMessage
	AMO           SubGroupPatch
	FxA           SubGroupPatch
	MofO          SubGroupPatch
	Newsletters   ListPatch
	Waitlists     ListPatch
	VpnWaitlist   VpnWaitlistValue
	RelayWaitlist RelayWaitlistValue
}

// UnmarshalJSON dispatches key by key so that absent and null can be told
// apart where the contract requires it (null on the legacy waitlist fields
// means deletion, null elsewhere means absent).
func (p *ContactPatch) UnmarshalJSON(b []byte) error {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(b, &keys); err != nil {
		return &ValidationError{Field: "body", Msg: "expected a JSON object"}
	}
	for key, raw := range keys {
		var err error
		switch key {
		case "email":
			trimmed := bytes.TrimSpace(raw)
			if bytes.Equal(trimmed, jsonNull) {
				continue
			}
			if len(trimmed) == 0 || trimmed[0] != '{' {
				return &ValidationError{Field: "email", Msg: "expected an object"}
			}
			p.Email = trimmed
		case "amo":
			err = p.AMO.decode("amo", raw)
		case "fxa":
			err = p.FxA.decode("fxa", raw)
		case "mofo":
			err = p.MofO.decode("mofo", raw)
		case "newsletters":
			err = p.Newsletters.decode("newsletters", raw)
		case "waitlists":
			err = p.Waitlists.decode("waitlists", raw)
		case "vpn_waitlist":
			err = json.Unmarshal(raw, &p.VpnWaitlist)
		case "relay_waitlist":
			err = json.Unmarshal(raw, &p.RelayWaitlist)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// NewsletterInput is a sparse newsletter entry as provided by callers.
type NewsletterInput struct {
	Name        string  `json:"name"`
	Subscribed  *bool   `json:"subscribed,omitempty"`
	Format      *string `json:"format,omitempty"`
	Lang        *string `json:"lang,omitempty"`
	Source      *string `json:"source,omitempty"`
	UnsubReason *string `json:"unsub_reason,omitempty"`
}

// ToNewsletter materializes the entry with schema defaults applied.
func (n NewsletterInput) ToNewsletter(now time.Time) Newsletter {
	out := Newsletter{
		Name:            n.Name,
		Subscribed:      true,
		Format:          FormatHTML,
		Source:          n.Source,
		UnsubReason:     n.UnsubReason,
		CreateTimestamp: now,
		UpdateTimestamp: now,
	}
	lang := "en"
	out.Lang = &lang
	if n.Subscribed != nil {
		out.Subscribed = *n.Subscribed
	}
	if n.Format != nil {
		out.Format = *n.Format
	}
	if n.Lang != nil {
		out.Lang = n.Lang
	}
	return out
}

// WaitlistInput is a sparse waitlist entry as provided by callers or
// produced by legacy-field reconciliation. A nil Fields map means the key
// was absent; an empty map means an explicit reset.
type WaitlistInput struct {
	Name        string         `json:"name"`
	Source      *string        `json:"source,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
	Subscribed  *bool          `json:"subscribed,omitempty"`
	UnsubReason *string        `json:"unsub_reason,omitempty"`
}

// IsDefault reports whether every non-identity field is at its default.
func (w WaitlistInput) IsDefault() bool {
	return (w.Subscribed == nil || *w.Subscribed) &&
		w.Source == nil &&
		len(w.Fields) == 0 &&
		w.UnsubReason == nil
}

// ToWaitlist materializes the entry with schema defaults applied.
func (w WaitlistInput) ToWaitlist(now time.Time) Waitlist {
	out := Waitlist{
		Name:            w.Name,
		Subscribed:      true,
		Source:          w.Source,
		Fields:          w.Fields,
		UnsubReason:     w.UnsubReason,
		CreateTimestamp: now,
		UpdateTimestamp: now,
	}
	if out.Fields == nil {
		out.Fields = map[string]any{}
	}
	if w.Subscribed != nil {
		out.Subscribed = *w.Subscribed
	}
	return out
}

// Validate applies the per-family field schema to the entry.
func (w WaitlistInput) Validate() error {
	wl := Waitlist{Name: w.Name, Fields: w.Fields}
	return wl.Validate()
}

// EmailInput is the central record as provided on POST/PUT. Timestamps are
// accepted in the payload but always overwritten server-side.
type EmailInput struct {
	EmailID            *string `json:"email_id"`
	PrimaryEmail       string  `json:"primary_email"`
	BasketToken        *string `json:"basket_token"`
	DoubleOptIn        bool    `json:"double_opt_in"`
	SfdcID             *string `json:"sfdc_id"`
	FirstName          *string `json:"first_name"`
	LastName           *string `json:"last_name"`
	MailingCountry     *string `json:"mailing_country"`
	EmailFormat        *string `json:"email_format"`
	EmailLang          *string `json:"email_lang"`
	HasOptedOutOfEmail bool    `json:"has_opted_out_of_email"`
	UnsubscribeReason  *string `json:"unsubscribe_reason"`
}

// ContactInput is the full-contact payload for POST and PUT. The legacy
// vpn_waitlist/relay_waitlist values are normalized into Waitlists before
// the payload reaches persistence.
type ContactInput struct {
	Email         EmailInput         `json:"email"`
	AMO           *AMOAccount        `json:"amo"`
	FxA           *FxAAccount        `json:"fxa"`
	MofO          *MofoContact       `json:"mofo"`
	Newsletters   []NewsletterInput  `json:"newsletters"`
	Waitlists     []WaitlistInput    `json:"waitlists"`
	VpnWaitlist   VpnWaitlistValue   `json:"vpn_waitlist"`
	RelayWaitlist RelayWaitlistValue `json:"relay_waitlist"`
}
