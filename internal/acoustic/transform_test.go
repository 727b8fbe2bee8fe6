package acoustic

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestScalarValue(t *testing.T) {
	ts := time.Date(2021, 7, 9, 15, 4, 5, 0, time.UTC)
	id := uuid.MustParse("332de237-cab7-4461-bcc3-48e68f42bd5c")
	n := int64(12)
	s := "hello"

	cases := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string", "plain", "plain"},
		{"string pointer", &s, "hello"},
		{"nil string pointer", (*string)(nil), ""},
		{"uuid", id, "332de237-cab7-4461-bcc3-48e68f42bd5c"},
		{"time drops time of day", ts, "2021-07-09"},
		{"time pointer", &ts, "2021-07-09"},
		{"nil time pointer", (*time.Time)(nil), ""},
		{"int64 pointer", &n, "12"},
		{"int", 7, "7"},
		{"iso string with seconds", "2021-07-09T15:04:05Z", "2021-07-09"},
		{"iso string no seconds", "1982-05-08T13:20", "1982-05-08"},
		{"iso string with offset", "2021-07-09 15:04:05+02:00", "2021-07-09"},
		{"bare date untouched", "2021-07-09", "2021-07-09"},
		{"non-date string untouched", "13:20 sharp", "13:20 sharp"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, scalarValue(tc.in))
		})
	}
}

func TestBooleanRenderings(t *testing.T) {
	// Main table and relational tables were provisioned with different
	// boolean encodings.
	assert.Equal(t, "1", mainValue(true))
	assert.Equal(t, "0", mainValue(false))
	assert.Equal(t, "Yes", relationalValue(true))
	assert.Equal(t, "No", relationalValue(false))

	b := true
	assert.Equal(t, "1", mainValue(&b))
	assert.Equal(t, "Yes", relationalValue(&b))
	assert.Equal(t, "", mainValue((*bool)(nil)))
	assert.Equal(t, "", relationalValue((*bool)(nil)))
}

func TestAcousticTimestamp(t *testing.T) {
	ts := time.Date(2021, 7, 9, 15, 4, 5, 0, time.UTC)
	assert.Equal(t, "07/09/2021 15:04:05", acousticTimestamp(&ts))
	assert.Equal(t, "", acousticTimestamp(nil))
}
