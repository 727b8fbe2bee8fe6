package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func now() time.Time {
	return time.Date(2023, 4, 5, 12, 0, 0, 0, time.UTC)
}

func TestContactPatch_SentinelDecoding(t *testing.T) {
	var p ContactPatch
	err := json.Unmarshal([]byte(`{
		"amo": "DELETE",
		"newsletters": "UNSUBSCRIBE",
		"vpn_waitlist": "DELETE",
		"relay_waitlist": null
	}`), &p)
	require.NoError(t, err)

	assert.True(t, p.AMO.Present)
	assert.True(t, p.AMO.Delete)
	assert.False(t, p.FxA.Present)

	assert.True(t, p.Newsletters.Present)
	assert.True(t, p.Newsletters.UnsubscribeAll)
	assert.False(t, p.Waitlists.Present)

	assert.True(t, p.VpnWaitlist.Present)
	assert.True(t, p.VpnWaitlist.Delete)
	// null on the legacy scalar also means deletion, unlike elsewhere.
	assert.True(t, p.RelayWaitlist.Present)
	assert.True(t, p.RelayWaitlist.Delete)
}

func TestContactPatch_NullSubGroupMeansAbsent(t *testing.T) {
	var p ContactPatch
	require.NoError(t, json.Unmarshal([]byte(`{"amo": null, "email": null}`), &p))
	assert.False(t, p.AMO.Present)
	assert.Nil(t, p.Email)
}

func TestContactPatch_ListEntries(t *testing.T) {
	var p ContactPatch
	err := json.Unmarshal([]byte(`{
		"waitlists": [
			{"name": "vpn", "fields": {"geo": "fr"}},
			{"name": "relay", "subscribed": false}
		]
	}`), &p)
	require.NoError(t, err)

	require.Len(t, p.Waitlists.Entries, 2)
	assert.Equal(t, "vpn", p.Waitlists.Entries[0].Name)
	assert.Nil(t, p.Waitlists.Entries[0].Subscribed)
	require.NotNil(t, p.Waitlists.Entries[1].Subscribed)
	assert.False(t, *p.Waitlists.Entries[1].Subscribed)
}

func TestContactPatch_ListEntryRequiresName(t *testing.T) {
	var p ContactPatch
	err := json.Unmarshal([]byte(`{"newsletters": [{"subscribed": true}]}`), &p)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "newsletters.name", vErr.Field)
}

func TestContactPatch_WrongShapeRejected(t *testing.T) {
	cases := map[string]string{
		"amo list":          `{"amo": [1, 2]}`,
		"newsletters obj":   `{"newsletters": {"name": "x"}}`,
		"vpn string":        `{"vpn_waitlist": "RESET"}`,
		"email string":      `{"email": "DELETE"}`,
		"top-level non-obj": `[1]`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			var p ContactPatch
			err := json.Unmarshal([]byte(body), &p)
			var vErr *ValidationError
			assert.ErrorAs(t, err, &vErr)
		})
	}
}

func TestVpnWaitlistValue_LengthLimit(t *testing.T) {
	var p ContactPatch
	long := strings.Repeat("x", 101)
	err := json.Unmarshal([]byte(`{"vpn_waitlist": {"geo": "`+long+`"}}`), &p)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "vpn_waitlist.geo", vErr.Field)
}

func TestWaitlistNameFromNewsletter(t *testing.T) {
	assert.Equal(t, "vpn", WaitlistNameFromNewsletter("guardian-vpn-waitlist"))
	assert.Equal(t, "relay", WaitlistNameFromNewsletter("relay-waitlist"))
	assert.Equal(t, "relay-vpn-bundle", WaitlistNameFromNewsletter("relay-vpn-bundle-waitlist"))
	assert.Equal(t, "", WaitlistNameFromNewsletter("firefox-news"))
}

func TestWaitlistValidate(t *testing.T) {
	vpn := Waitlist{Name: "vpn", Fields: map[string]any{"geo": "fr", "platform": "mac"}}
	assert.NoError(t, vpn.Validate())

	vpn.Fields["extra"] = true
	assert.Error(t, vpn.Validate())

	relay := Waitlist{Name: "relay-phone", Fields: map[string]any{"platform": "ios"}}
	assert.Error(t, relay.Validate())

	open := Waitlist{Name: "new-product", Fields: map[string]any{"anything": "goes"}}
	assert.NoError(t, open.Validate())

	unnamed := Waitlist{}
	assert.Error(t, unnamed.Validate())
}

func TestWaitlistInput_ToWaitlistDefaults(t *testing.T) {
	in := WaitlistInput{Name: "vpn"}
	wl := in.ToWaitlist(now())
	assert.True(t, wl.Subscribed)
	assert.NotNil(t, wl.Fields)

	sub := false
	in = WaitlistInput{Name: "vpn", Subscribed: &sub}
	assert.False(t, in.ToWaitlist(now()).Subscribed)
}

func TestNewsletterInput_ToNewsletterDefaults(t *testing.T) {
	nl := NewsletterInput{Name: "firefox-news"}.ToNewsletter(now())
	assert.True(t, nl.Subscribed)
	assert.Equal(t, FormatHTML, nl.Format)
	require.NotNil(t, nl.Lang)
	assert.Equal(t, "en", *nl.Lang)
}
