package acoustic

import (
	"sort"

	"github.com/mozilla-it/ctms-api-sub000/internal/domain"
)

// Converter flattens contact aggregates into Acoustic rows according to
// a FieldConfig. The zero value is ready to use.
type Converter struct{}

// fieldCandidate is one flattened group field with its main-table
// column name already resolved.
type fieldCandidate struct {
	name  string
	value any
}

// Convert produces the main-table row plus the relational rows for one
// contact. It never fails; mapping misses land in the returned stats.
func (cv *Converter) Convert(c *domain.Contact, cfg *FieldConfig) (*Records, *ConvertStats) {
	stats := &ConvertStats{}
	records := &Records{
		Main:        cv.mainRow(c, cfg, stats),
		Newsletters: cv.newsletterRows(c),
		Waitlists:   cv.waitlistRows(c, cfg),
		Products:    cv.productRows(c),
	}
	return records, stats
}

// mainRow flattens identity and sub-group fields into the flat main
// table. Subscription-flag columns default to "0" and flip to "1" per
// mapped, subscribed newsletter.
func (cv *Converter) mainRow(c *domain.Contact, cfg *FieldConfig, stats *ConvertStats) MainRow {
	row := MainRow{}
	for _, column := range cfg.NewsletterMapping {
		row[column] = "0"
	}

	for _, cand := range mainCandidates(c) {
		if !cfg.MainFields[cand.name] {
			stats.SkippedFields = append(stats.SkippedFields, cand.name)
			continue
		}
		row[cand.name] = mainValue(cand.value)
	}

	seen := map[string]bool{}
	for _, nl := range c.Newsletters {
		column, ok := cfg.NewsletterMapping[nl.Name]
		if !ok {
			if !seen[nl.Name] {
				stats.SkippedNewsletters = append(stats.SkippedNewsletters, nl.Name)
				seen[nl.Name] = true
			}
			continue
		}
		if nl.Subscribed {
			row[column] = "1"
		}
	}
	return row
}

// mainCandidates lists every flattenable field with its column name.
// Email fields keep their bare names, sub-group fields get the group
// prefix, with two historical exceptions: (email, primary_email) is
// "email" and (fxa, fxa_id) is "fxa_id", not "fxa_fxa_id".
func mainCandidates(c *domain.Contact) []fieldCandidate {
	e := c.Email
	cands := []fieldCandidate{
		{"email_id", e.EmailID},
		{"email", e.PrimaryEmail},
		{"basket_token", e.BasketToken},
		{"double_opt_in", e.DoubleOptIn},
		{"sfdc_id", e.SfdcID},
		{"first_name", e.FirstName},
		{"last_name", e.LastName},
		{"mailing_country", e.MailingCountry},
		{"email_format", e.EmailFormat},
		{"email_lang", e.EmailLang},
		{"has_opted_out_of_email", e.HasOptedOutOfEmail},
		{"unsubscribe_reason", e.UnsubscribeReason},
		{"create_timestamp", e.CreateTimestamp},
		{"update_timestamp", e.UpdateTimestamp},
	}

	if a := c.AMO; a != nil {
		cands = append(cands,
			fieldCandidate{"amo_add_on_ids", a.AddOnIDs},
			fieldCandidate{"amo_display_name", a.DisplayName},
			fieldCandidate{"amo_email_opt_in", a.EmailOptIn},
			fieldCandidate{"amo_language", a.Language},
			fieldCandidate{"amo_last_login", a.LastLogin},
			fieldCandidate{"amo_location", a.Location},
			fieldCandidate{"amo_profile_url", a.ProfileURL},
			fieldCandidate{"amo_user", a.User},
			fieldCandidate{"amo_user_id", a.UserID},
			fieldCandidate{"amo_username", a.Username},
			fieldCandidate{"amo_create_timestamp", a.CreateTimestamp},
			fieldCandidate{"amo_update_timestamp", a.UpdateTimestamp},
		)
	}
	if f := c.FxA; f != nil {
		cands = append(cands,
			fieldCandidate{"fxa_id", f.FxAID},
			fieldCandidate{"fxa_primary_email", f.PrimaryEmail},
			fieldCandidate{"fxa_created_date", f.CreatedDate},
			fieldCandidate{"fxa_lang", f.Lang},
			fieldCandidate{"fxa_first_service", f.FirstService},
			fieldCandidate{"fxa_account_deleted", f.AccountDeleted},
		)
	}
	if m := c.MofO; m != nil {
		cands = append(cands,
			fieldCandidate{"mofo_email_id", m.MofoEmailID},
			fieldCandidate{"mofo_contact_id", m.MofoContactID},
			fieldCandidate{"mofo_relevant", m.MofoRelevant},
		)
	}

	// The legacy scalar columns survive on the main table, computed
	// from the normalized waitlist rows. Absent means empty string;
	// the main table has no null.
	vpnGeo, vpnPlatform, relayGeo := "", "", ""
	if wl := c.FindWaitlist(domain.WaitlistVPN); wl != nil && wl.Subscribed {
		vpnGeo = stringField(wl, "geo")
		vpnPlatform = stringField(wl, "platform")
	}
	var relayNames []string
	byName := map[string]*domain.Waitlist{}
	for _, wl := range c.RelayWaitlists() {
		if wl.Subscribed {
			relayNames = append(relayNames, wl.Name)
			byName[wl.Name] = wl
		}
	}
	if len(relayNames) > 0 {
		sort.Strings(relayNames)
		relayGeo = stringField(byName[relayNames[0]], "geo")
	}
	cands = append(cands,
		fieldCandidate{"vpn_waitlist_geo", vpnGeo},
		fieldCandidate{"vpn_waitlist_platform", vpnPlatform},
		fieldCandidate{"relay_waitlist_geo", relayGeo},
	)
	return cands
}

// newsletterRows emits one row per newsletter, subscribed or not. Full
// subscription history goes downstream; "subscribed" carries the state.
func (cv *Converter) newsletterRows(c *domain.Contact) []RelationalRow {
	rows := make([]RelationalRow, 0, len(c.Newsletters))
	for _, nl := range c.Newsletters {
		rows = append(rows, RelationalRow{
			"email_id":                c.Email.EmailID.String(),
			"newsletter_name":         nl.Name,
			"newsletter_format":       nl.Format,
			"newsletter_lang":         scalarValue(nl.Lang),
			"newsletter_source":       scalarValue(nl.Source),
			"newsletter_unsub_reason": scalarValue(nl.UnsubReason),
			"subscribed":              relationalValue(nl.Subscribed),
			"create_timestamp":        scalarValue(nl.CreateTimestamp),
			"update_timestamp":        scalarValue(nl.UpdateTimestamp),
		})
	}
	return rows
}

// waitlistRows emits one row per waitlist with the allow-listed fields
// flattened out of the open fields map. Missing field keys render as
// empty strings. The subscribed flag stays a boolean here.
func (cv *Converter) waitlistRows(c *domain.Contact, cfg *FieldConfig) []RelationalRow {
	rows := make([]RelationalRow, 0, len(c.Waitlists))
	for _, wl := range c.Waitlists {
		row := RelationalRow{
			"email_id":         c.Email.EmailID.String(),
			"waitlist_name":    wl.Name,
			"waitlist_source":  scalarValue(wl.Source),
			"subscribed":       wl.Subscribed,
			"unsub_reason":     scalarValue(wl.UnsubReason),
			"create_timestamp": scalarValue(wl.CreateTimestamp),
			"update_timestamp": scalarValue(wl.UpdateTimestamp),
		}
		for field := range cfg.WaitlistFields {
			val, ok := wl.Fields[field]
			if !ok {
				row[field] = ""
				continue
			}
			row[field] = relationalValue(val)
		}
		rows = append(rows, row)
	}
	return rows
}

// productRows emits one row per Stripe-derived product association.
// Unlike the subscription tables, the changed/created style columns
// keep their time of day.
func (cv *Converter) productRows(c *domain.Contact) []RelationalRow {
	rows := make([]RelationalRow, 0, len(c.Products))
	for _, p := range c.Products {
		rows = append(rows, RelationalRow{
			"email_id":             c.Email.EmailID.String(),
			"payment_service":      p.PaymentService,
			"product_id":           scalarValue(p.ProductID),
			"product_name":         scalarValue(p.ProductName),
			"price_id":             scalarValue(p.PriceID),
			"segment":              p.Segment,
			"changed":              acousticTimestamp(p.Changed),
			"sub_count":            p.SubCount,
			"status":               scalarValue(p.Status),
			"currency":             scalarValue(p.Currency),
			"amount":               scalarValue(p.Amount),
			"billing_interval":     scalarValue(p.Interval),
			"interval_count":       scalarValue(p.IntervalCount),
			"created":              acousticTimestamp(p.Created),
			"start":                acousticTimestamp(p.Start),
			"current_period_start": acousticTimestamp(p.CurrentPeriodStart),
			"current_period_end":   acousticTimestamp(p.CurrentPeriodEnd),
			"canceled_at":          acousticTimestamp(p.CanceledAt),
			"cancel_at_period_end": relationalValue(p.CancelAtPeriodEnd),
			"ended_at":             acousticTimestamp(p.EndedAt),
		})
	}
	return rows
}

func stringField(wl *domain.Waitlist, key string) string {
	if s := wl.FieldString(key); s != nil {
		return *s
	}
	return ""
}
