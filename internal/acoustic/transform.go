package acoustic

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// isoDateTime matches an ISO-style date with a time-of-day suffix. Some
// upstream values arrive as raw strings rather than parsed timestamps;
// those get the time portion stripped by pattern rather than by parsing
// so malformed data still passes through instead of failing the sync.
var isoDateTime = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})[T ]\d{1,2}:\d{2}(:\d{2})?(\.\d+)?(Z|[+-]\d{2}:?\d{2})?$`)

// mainValue coerces a scalar for a main-table column. Booleans render
// as "1"/"0" on the main table.
func mainValue(v any) string {
	if b, ok := derefBool(v); ok {
		if b {
			return "1"
		}
		return "0"
	}
	return scalarValue(v)
}

// relationalValue coerces a scalar for a relational-table column.
// Booleans render as "Yes"/"No" here, not "1"/"0". The two renderings
// are what the destination tables were provisioned with.
func relationalValue(v any) string {
	if b, ok := derefBool(v); ok {
		if b {
			return "Yes"
		}
		return "No"
	}
	return scalarValue(v)
}

// scalarValue handles the destination-independent coercions: nil to "",
// UUIDs to their string form, timestamps to date-only (Acoustic has no
// timestamp type), ISO strings with a time suffix to their date part.
func scalarValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		if m := isoDateTime.FindStringSubmatch(val); m != nil {
			return m[1]
		}
		return val
	case *string:
		if val == nil {
			return ""
		}
		return scalarValue(*val)
	case *bool:
		if val == nil {
			return ""
		}
		return fmt.Sprintf("%v", *val)
	case uuid.UUID:
		return val.String()
	case time.Time:
		return val.Format("2006-01-02")
	case *time.Time:
		if val == nil {
			return ""
		}
		return val.Format("2006-01-02")
	case *int64:
		if val == nil {
			return ""
		}
		return fmt.Sprintf("%d", *val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// acousticTimestamp renders a full timestamp for the "changed"/"created"
// style product columns, which unlike the subscription tables do carry
// time of day, in Acoustic's locale-fixed format.
func acousticTimestamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("01/02/2006 15:04:05")
}

func derefBool(v any) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case *bool:
		if val == nil {
			return false, false
		}
		return *val, true
	}
	return false, false
}
