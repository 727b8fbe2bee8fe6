package contact

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/mozilla-it/ctms-api-sub000/internal/domain"
)

// ApplyPatch applies a sparse update to the aggregate in place. Keys absent
// from the patch leave prior state untouched. Legacy waitlist fields must
// already have been normalized into patch.Waitlists by the reconciler.
//
// Every successful patch advances the central record's update timestamp,
// even when only a sub-group changed. Client-supplied timestamps are
// accepted in payloads but always overwritten here.
func ApplyPatch(c *domain.Contact, patch *domain.ContactPatch, now time.Time) error {
	if patch.Email != nil {
		if err := applyEmailPatch(&c.Email, patch.Email); err != nil {
			return err
		}
	}

	if err := applyAMOPatch(c, patch.AMO, now); err != nil {
		return err
	}
	if err := applyFxAPatch(c, patch.FxA, now); err != nil {
		return err
	}
	if err := applyMofoPatch(c, patch.MofO, now); err != nil {
		return err
	}

	if patch.Newsletters.Present {
		applyNewslettersPatch(c, patch.Newsletters, now)
	}
	if patch.Waitlists.Present {
		if err := applyWaitlistsPatch(c, patch.Waitlists, now); err != nil {
			return err
		}
	}

	sort.Slice(c.Newsletters, func(i, j int) bool { return c.Newsletters[i].Name < c.Newsletters[j].Name })
	sort.Slice(c.Waitlists, func(i, j int) bool { return c.Waitlists[i].Name < c.Waitlists[j].Name })

	c.Email.UpdateTimestamp = now
	return nil
}

// applyEmailPatch overlays present keys onto the central record. Identity
// and timestamp keys are server-owned and stripped before the merge.
func applyEmailPatch(email *domain.EmailIdentity, raw json.RawMessage) error {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return &domain.ValidationError{Field: "email", Msg: "malformed object"}
	}
	if v, ok := keys["primary_email"]; ok && string(v) == "null" {
		return &domain.ValidationError{Field: "email.primary_email", Msg: "may not be null"}
	}
	delete(keys, "email_id")
	delete(keys, "create_timestamp")
	delete(keys, "update_timestamp")
	stripped, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	merged := *email
	if err := json.Unmarshal(stripped, &merged); err != nil {
		return &domain.ValidationError{Field: "email", Msg: "malformed value"}
	}
	*email = merged
	return nil
}

func applyAMOPatch(c *domain.Contact, p domain.SubGroupPatch, now time.Time) error {
	if !p.Present {
		return nil
	}
	if p.Delete {
		c.AMO = nil
		return nil
	}
	if c.AMO == nil {
		var created domain.AMOAccount
		if err := json.Unmarshal(p.Data, &created); err != nil {
			return &domain.ValidationError{Field: "amo", Msg: "malformed value"}
		}
		created.CreateTimestamp, created.UpdateTimestamp = now, now
		if !created.IsDefault() {
			c.AMO = &created
		}
		return nil
	}
	merged := *c.AMO
	if err := json.Unmarshal(p.Data, &merged); err != nil {
		return &domain.ValidationError{Field: "amo", Msg: "malformed value"}
	}
	merged.CreateTimestamp = c.AMO.CreateTimestamp
	merged.UpdateTimestamp = now
	if merged.IsDefault() {
		// Drifting back to all-defaults is equivalent to deletion.
		c.AMO = nil
	} else {
		*c.AMO = merged
	}
	return nil
}

func applyFxAPatch(c *domain.Contact, p domain.SubGroupPatch, now time.Time) error {
	if !p.Present {
		return nil
	}
	if p.Delete {
		c.FxA = nil
		return nil
	}
	if c.FxA == nil {
		var created domain.FxAAccount
		if err := json.Unmarshal(p.Data, &created); err != nil {
			return &domain.ValidationError{Field: "fxa", Msg: "malformed value"}
		}
		created.CreateTimestamp, created.UpdateTimestamp = now, now
		if !created.IsDefault() {
			c.FxA = &created
		}
		return nil
	}
	merged := *c.FxA
	if err := json.Unmarshal(p.Data, &merged); err != nil {
		return &domain.ValidationError{Field: "fxa", Msg: "malformed value"}
	}
	merged.CreateTimestamp = c.FxA.CreateTimestamp
	merged.UpdateTimestamp = now
	if merged.IsDefault() {
		c.FxA = nil
	} else {
		*c.FxA = merged
	}
	return nil
}

func applyMofoPatch(c *domain.Contact, p domain.SubGroupPatch, now time.Time) error {
	if !p.Present {
		return nil
	}
	if p.Delete {
		c.MofO = nil
		return nil
	}
	if c.MofO == nil {
		var created domain.MofoContact
		if err := json.Unmarshal(p.Data, &created); err != nil {
			return &domain.ValidationError{Field: "mofo", Msg: "malformed value"}
		}
		created.CreateTimestamp, created.UpdateTimestamp = now, now
		if !created.IsDefault() {
			c.MofO = &created
		}
		return nil
	}
	merged := *c.MofO
	if err := json.Unmarshal(p.Data, &merged); err != nil {
		return &domain.ValidationError{Field: "mofo", Msg: "malformed value"}
	}
	merged.CreateTimestamp = c.MofO.CreateTimestamp
	merged.UpdateTimestamp = now
	if merged.IsDefault() {
		c.MofO = nil
	} else {
		*c.MofO = merged
	}
	return nil
}

func applyNewslettersPatch(c *domain.Contact, p domain.ListPatch, now time.Time) {
	if p.UnsubscribeAll {
		// History is kept: unsubscribed is a state, not a deletion.
		for i := range c.Newsletters {
			c.Newsletters[i].Subscribed = false
			c.Newsletters[i].UpdateTimestamp = now
		}
		return
	}
	for _, entry := range p.Entries {
		if existing := c.FindNewsletter(entry.Name); existing != nil {
			merged := *existing
			if err := json.Unmarshal(entry.Raw, &merged); err != nil {
				continue
			}
			merged.Name = existing.Name
			merged.CreateTimestamp = existing.CreateTimestamp
			merged.UpdateTimestamp = now
			*existing = merged
		} else if entry.Subscribed == nil || *entry.Subscribed {
			var in domain.NewsletterInput
			if err := json.Unmarshal(entry.Raw, &in); err != nil {
				continue
			}
			c.Newsletters = append(c.Newsletters, in.ToNewsletter(now))
		}
		// Unsubscribing from a newsletter the contact never had is a no-op.
	}
}

func applyWaitlistsPatch(c *domain.Contact, p domain.ListPatch, now time.Time) error {
	if p.UnsubscribeAll {
		for i := range c.Waitlists {
			c.Waitlists[i].Subscribed = false
			c.Waitlists[i].UpdateTimestamp = now
		}
		return nil
	}
	for _, entry := range p.Entries {
		if existing := c.FindWaitlist(entry.Name); existing != nil {
			merged := *existing
			// An entry carrying a fields object replaces the stored map
			// wholesale rather than merging key by key.
			var peek struct {
				Fields json.RawMessage `json:"fields"`
			}
			_ = json.Unmarshal(entry.Raw, &peek)
			if len(peek.Fields) > 0 && string(peek.Fields) != "null" {
				merged.Fields = nil
			}
			if err := json.Unmarshal(entry.Raw, &merged); err != nil {
				return &domain.ValidationError{Field: "waitlists", Msg: "malformed entry"}
			}
			merged.Name = existing.Name
			merged.CreateTimestamp = existing.CreateTimestamp
			merged.UpdateTimestamp = now
			if err := merged.Validate(); err != nil {
				return err
			}
			if merged.IsDefault() {
				c.Waitlists = removeWaitlist(c.Waitlists, entry.Name)
			} else {
				*existing = merged
			}
		} else if entry.Subscribed == nil || *entry.Subscribed {
			var in domain.WaitlistInput
			if err := json.Unmarshal(entry.Raw, &in); err != nil {
				return &domain.ValidationError{Field: "waitlists", Msg: "malformed entry"}
			}
			created := in.ToWaitlist(now)
			if err := created.Validate(); err != nil {
				return err
			}
			if !created.IsDefault() {
				c.Waitlists = append(c.Waitlists, created)
			}
		}
	}
	return nil
}

func removeWaitlist(waitlists []domain.Waitlist, name string) []domain.Waitlist {
	out := waitlists[:0]
	for _, wl := range waitlists {
		if wl.Name != name {
			out = append(out, wl)
		}
	}
	return out
}
