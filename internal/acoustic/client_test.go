package acoustic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const successXML = `<Envelope><Body><RESULT><SUCCESS>TRUE</SUCCESS></RESULT></Body></Envelope>`

// newTestClient wires a Client at a stub server that answers the OAuth
// endpoint and records every XML API payload it receives.
func newTestClient(t *testing.T, apiHandler http.HandlerFunc) (*Client, *[]string) {
	t.Helper()
	var payloads []string
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token": "token-1", "expires_in": 3600}`))
	})
	mux.HandleFunc("/XMLAPI", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		payloads = append(payloads, r.PostFormValue("xml"))
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		apiHandler(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := &Client{
		apiURL:            srv.URL + "/XMLAPI",
		oauthURL:          srv.URL + "/oauth/token",
		clientID:          "id",
		clientSecret:      "secret",
		refreshToken:      "refresh",
		mainTableID:       "100",
		newsletterTableID: "200",
		waitlistTableID:   "300",
		productTableID:    "400",
		httpClient:        srv.Client(),
	}
	return c, &payloads
}

func testRecords() *Records {
	return &Records{
		Main: MainRow{"email_id": "abc-123", "email": "x@example.com"},
		Newsletters: []RelationalRow{
			{"email_id": "abc-123", "newsletter_name": "firefox-news", "subscribed": "Yes"},
		},
		Waitlists: []RelationalRow{
			{"email_id": "abc-123", "waitlist_name": "vpn", "subscribed": true},
		},
	}
}

func TestUploadContact_Success(t *testing.T) {
	client, payloads := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(successXML))
	})

	require.NoError(t, client.UploadContact(context.Background(), testRecords()))

	// One AddRecipient plus one relational call per non-empty table;
	// the empty product set is skipped.
	require.Len(t, *payloads, 3)
	first := (*payloads)[0]
	assert.Contains(t, first, "<AddRecipient>")
	assert.Contains(t, first, "<LIST_ID>100</LIST_ID>")
	assert.Contains(t, first, "<UPDATE_IF_FOUND>TRUE</UPDATE_IF_FOUND>")
	assert.Contains(t, first, "<SYNC_FIELD><NAME>email_id</NAME><VALUE>abc-123</VALUE></SYNC_FIELD>")

	second := (*payloads)[1]
	assert.Contains(t, second, "<InsertUpdateRelationalTable>")
	assert.Contains(t, second, "<TABLE_ID>200</TABLE_ID>")
	assert.Contains(t, second, `<COLUMN name="newsletter_name">firefox-news</COLUMN>`)

	third := (*payloads)[2]
	assert.Contains(t, third, "<TABLE_ID>300</TABLE_ID>")
	// Typed values serialize via their default formatting.
	assert.Contains(t, third, `<COLUMN name="subscribed">true</COLUMN>`)
}

func TestUploadContact_Fault(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<Envelope><Body>
			<RESULT><SUCCESS>FALSE</SUCCESS></RESULT>
			<Fault><FaultString>Invalid list id</FaultString></Fault>
		</Body></Envelope>`))
	})

	err := client.UploadContact(context.Background(), testRecords())
	var upErr *UploadError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, "AddRecipient", upErr.Op)
	assert.Contains(t, upErr.Fault, "Invalid list id")
}

func TestUploadContact_RowFailures(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Write([]byte(successXML))
			return
		}
		w.Write([]byte(`<Envelope><Body><RESULT>
			<SUCCESS>FALSE</SUCCESS>
			<FAILURES>
				<FAILURE failure_type="permanent" description="Column mismatch"/>
			</FAILURES>
		</RESULT></Body></Envelope>`))
	})

	err := client.UploadContact(context.Background(), testRecords())
	var upErr *UploadError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, "InsertUpdateRelationalTable", upErr.Op)
	assert.Contains(t, upErr.Fault, "Column mismatch")
}

func TestUploadContact_NotSuccessful(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<Envelope><Body><RESULT><SUCCESS>FALSE</SUCCESS></RESULT></Body></Envelope>`))
	})

	err := client.UploadContact(context.Background(), testRecords())
	var upErr *UploadError
	require.ErrorAs(t, err, &upErr)
}

func TestUploadContact_SkipsUnconfiguredTables(t *testing.T) {
	client, payloads := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(successXML))
	})
	client.waitlistTableID = ""

	require.NoError(t, client.UploadContact(context.Background(), testRecords()))
	require.Len(t, *payloads, 2)
	for _, p := range *payloads {
		assert.False(t, strings.Contains(p, "<TABLE_ID>300</TABLE_ID>"))
	}
}

func TestClient_TokenCached(t *testing.T) {
	tokenCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostFormValue("grant_type"))
		w.Write([]byte(`{"access_token": "token-1", "expires_in": 3600}`))
	})
	mux.HandleFunc("/XMLAPI", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(successXML))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := &Client{
		apiURL:      srv.URL + "/XMLAPI",
		oauthURL:    srv.URL + "/oauth/token",
		mainTableID: "100",
		httpClient:  srv.Client(),
	}
	records := &Records{Main: MainRow{"email_id": "abc"}}

	require.NoError(t, client.UploadContact(context.Background(), records))
	require.NoError(t, client.UploadContact(context.Background(), records))
	assert.Equal(t, 1, tokenCalls)
}

func TestClient_TokenErrorSurfaces(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "invalid_grant"}`, http.StatusBadRequest)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := &Client{
		apiURL:      srv.URL + "/XMLAPI",
		oauthURL:    srv.URL + "/oauth/token",
		mainTableID: "100",
		httpClient:  srv.Client(),
	}
	err := client.UploadContact(context.Background(), &Records{Main: MainRow{"email_id": "abc"}})
	assert.ErrorContains(t, err, "token error")
}
