package contact

import (
	"sort"
	"strings"

	"github.com/mozilla-it/ctms-api-sub000/internal/domain"
)

// LegacyWaitlistRequest is the waitlist-relevant slice of an inbound
// create/update payload, extracted by the caller from either the PUT/POST
// or the PATCH shape.
type LegacyWaitlistRequest struct {
	Waitlists                 []domain.WaitlistInput
	WaitlistsUnsubscribeAll   bool
	Newsletters               []domain.NewsletterInput
	NewslettersUnsubscribeAll bool
	Vpn                       domain.VpnWaitlistValue
	Relay                     domain.RelayWaitlistValue
}

// NormalizeLegacyWaitlists mimics the current payload format for requests
// still using the legacy vpn_waitlist/relay_waitlist scalars. It returns
// the waitlist operations to merge into the payload's waitlists list.
//
// The legacy scalars are views over the normalized rows: vpn_waitlist maps
// onto the single "vpn" waitlist, relay_waitlist aliases every waitlist
// whose name starts with "relay". Writes through the relay scalar apply to
// all of them unless a relay-*-waitlist newsletter disambiguates which one.
func NormalizeLegacyWaitlists(req *LegacyWaitlistRequest, existing []domain.Waitlist) []domain.WaitlistInput {
	// A payload that already carries a waitlists list (or the bulk
	// unsubscribe sentinel) is in the current format; nothing to do.
	if len(req.Waitlists) > 0 || req.WaitlistsUnsubscribeAll {
		return req.Waitlists
	}

	falseVal := false
	var ops []domain.WaitlistInput
	unsubscribe := func(name string) {
		ops = append(ops, domain.WaitlistInput{Name: name, Subscribed: &falseVal})
	}

	// Newsletter-driven unsubscription. Unsubscribing from a
	// "<x>-waitlist" newsletter unsubscribes waitlist <x>; subscribing via
	// newsletter never creates a waitlist row on its own.
	if req.NewslettersUnsubscribeAll {
		for i := range existing {
			unsubscribe(existing[i].Name)
		}
	} else {
		for _, nl := range req.Newsletters {
			name := domain.WaitlistNameFromNewsletter(nl.Name)
			if name != "" && nl.Subscribed != nil && !*nl.Subscribed {
				unsubscribe(name)
			}
		}
	}

	if req.Vpn.Present {
		hasVpn := findByName(existing, domain.WaitlistVPN) != nil
		switch {
		case req.Vpn.Delete:
			if hasVpn {
				unsubscribe(domain.WaitlistVPN)
			}
		case hasVpn && req.Vpn.IsDefault():
			// Resetting the scalar to all-defaults means deletion.
			unsubscribe(domain.WaitlistVPN)
		default:
			fields := map[string]any{}
			if req.Vpn.Geo != nil {
				fields["geo"] = *req.Vpn.Geo
			}
			if req.Vpn.Platform != nil {
				fields["platform"] = *req.Vpn.Platform
			}
			// The existing row's source survives: the sparse upsert does
			// not carry a source key, so merging leaves it untouched.
			ops = append(ops, domain.WaitlistInput{Name: domain.WaitlistVPN, Fields: fields})
		}
	}

	if req.Relay.Present {
		var relayNames []string
		for i := range existing {
			if existing[i].IsRelay() {
				relayNames = append(relayNames, existing[i].Name)
			}
		}
		switch {
		case req.Relay.Delete, req.Relay.IsDefault():
			// Deleting at the contact level unsubscribes every relay
			// waitlist the contact is on.
			for _, name := range relayNames {
				unsubscribe(name)
			}
		default:
			fields := map[string]any{}
			if req.Relay.Geo != nil {
				fields["geo"] = *req.Relay.Geo
			}
			// relay-*-waitlist newsletters in the payload pin down which
			// relay waitlists the scalar write targets.
			var pinned []string
			if !req.NewslettersUnsubscribeAll {
				for _, nl := range req.Newsletters {
					name := domain.WaitlistNameFromNewsletter(nl.Name)
					if name != "" && strings.HasPrefix(name, domain.RelayPrefix) &&
						(nl.Subscribed == nil || *nl.Subscribed) {
						pinned = append(pinned, name)
					}
				}
			}
			switch {
			case len(pinned) > 0:
				for _, name := range pinned {
					ops = append(ops, domain.WaitlistInput{Name: name, Fields: fields})
				}
			case len(relayNames) == 0:
				// First relay subscription: create with the generic name.
				ops = append(ops, domain.WaitlistInput{Name: domain.RelayPrefix, Fields: fields})
			default:
				// Update all, each keeping its own source.
				for _, name := range relayNames {
					ops = append(ops, domain.WaitlistInput{Name: name, Fields: fields})
				}
			}
		}
	}

	return mergeByName(ops)
}

// BackportRelayNewsletters turns relay-*-waitlist newsletters that arrive
// without matching waitlist info into real waitlist operations. Runs after
// NormalizeLegacyWaitlists, so ops already carries the scalar-derived
// entries. A subscribed relay newsletter inherits geo and source from the
// main "relay" waitlist, taken from the payload first and the stored rows
// second; when neither has relay info the payload is rejected, since a
// relay signup without a country cannot be fulfilled. Returns the expanded
// operations and whether anything was added.
func BackportRelayNewsletters(ops []domain.WaitlistInput, req *LegacyWaitlistRequest, existing []domain.Waitlist) ([]domain.WaitlistInput, bool, error) {
	if req.WaitlistsUnsubscribeAll {
		return ops, false, nil
	}

	index := make(map[string]int, len(ops))
	for i := range ops {
		index[ops[i].Name] = i
	}

	type backport struct {
		waitlist   string
		newsletter string
		subscribed bool
	}
	var pending []backport
	if req.NewslettersUnsubscribeAll {
		for i := range existing {
			name := existing[i].Name
			if strings.HasPrefix(name, domain.RelayPrefix+"-") {
				pending = append(pending, backport{name, name + "-waitlist", false})
			}
		}
	} else {
		for _, nl := range req.Newsletters {
			if !strings.HasPrefix(nl.Name, domain.RelayPrefix+"-") {
				continue
			}
			name := strings.TrimSuffix(nl.Name, "-waitlist")
			if _, ok := index[name]; ok {
				// The payload already carries waitlist info for it.
				continue
			}
			pending = append(pending, backport{name, nl.Name, nl.Subscribed == nil || *nl.Subscribed})
		}
	}
	if len(pending) == 0 {
		return ops, false, nil
	}

	var mainSource *string
	var mainFields map[string]any
	found := false
	if at, ok := index[domain.RelayPrefix]; ok {
		mainSource, mainFields, found = ops[at].Source, ops[at].Fields, true
	} else if wl := findByName(existing, domain.RelayPrefix); wl != nil {
		mainSource, mainFields, found = wl.Source, wl.Fields, true
	}
	if !found {
		names := make([]string, 0, len(pending))
		for _, p := range pending {
			names = append(names, p.newsletter)
		}
		return nil, false, &domain.ValidationError{
			Field: "newsletters",
			Msg:   "relay country cannot be found for " + strings.Join(names, ", "),
		}
	}

	falseVal := false
	for _, p := range pending {
		op := domain.WaitlistInput{Name: p.waitlist}
		if p.subscribed {
			fields := make(map[string]any, len(mainFields))
			for k, v := range mainFields {
				fields[k] = v
			}
			op.Source = mainSource
			op.Fields = fields
		} else {
			op.Subscribed = &falseVal
		}
		if at, ok := index[p.waitlist]; ok {
			ops[at] = op
			continue
		}
		index[p.waitlist] = len(ops)
		ops = append(ops, op)
	}
	return ops, true, nil
}

// mergeByName collapses operations targeting the same waitlist, later
// operations overwriting earlier ones. Name is the merge key.
func mergeByName(ops []domain.WaitlistInput) []domain.WaitlistInput {
	if len(ops) == 0 {
		return nil
	}
	index := make(map[string]int, len(ops))
	var merged []domain.WaitlistInput
	for _, op := range ops {
		if at, ok := index[op.Name]; ok {
			merged[at] = op
			continue
		}
		index[op.Name] = len(merged)
		merged = append(merged, op)
	}
	return merged
}

func findByName(waitlists []domain.Waitlist, name string) *domain.Waitlist {
	for i := range waitlists {
		if waitlists[i].Name == name {
			return &waitlists[i]
		}
	}
	return nil
}

// ToLegacyView computes the legacy scalar fields from the normalized
// waitlist rows for inclusion in API responses.
//
// When several relay waitlists are subscribed the view reflects one of
// them; the pick is the lexicographically first name, so responses are
// stable regardless of row insertion order.
func ToLegacyView(c *domain.Contact) (domain.VpnWaitlistView, domain.RelayWaitlistView) {
	var vpn domain.VpnWaitlistView
	if wl := c.FindWaitlist(domain.WaitlistVPN); wl != nil && wl.Subscribed {
		vpn.Geo = wl.FieldString("geo")
		vpn.Platform = wl.FieldString("platform")
	}

	var relay domain.RelayWaitlistView
	var names []string
	byName := map[string]*domain.Waitlist{}
	for _, wl := range c.RelayWaitlists() {
		if wl.Subscribed {
			names = append(names, wl.Name)
			byName[wl.Name] = wl
		}
	}
	if len(names) > 0 {
		sort.Strings(names)
		relay.Geo = byName[names[0]].FieldString("geo")
	}
	return vpn, relay
}
