package acoustic

// MainRow is the flat per-contact row for the Acoustic main table.
// Every value is already coerced to the string form Acoustic accepts.
type MainRow map[string]string

// RelationalRow is one row for a relational table (newsletters,
// waitlists, products). Values stay typed until XML serialization;
// waitlist subscription flags in particular are carried as booleans.
type RelationalRow map[string]any

// Records is the full converted form of one contact.
type Records struct {
	Main        MainRow
	Newsletters []RelationalRow
	Waitlists   []RelationalRow
	Products    []RelationalRow
}

// ConvertStats accumulates non-fatal diagnostics from one conversion.
type ConvertStats struct {
	// SkippedFields lists flattened main-table field names that were
	// dropped because they are not in the main-table allow-list.
	SkippedFields []string

	// SkippedNewsletters lists newsletter names with no entry in the
	// newsletter-to-column mapping.
	SkippedNewsletters []string
}

// FieldConfig is the externally managed mapping configuration for the
// converter: which main-table columns exist, which waitlist fields are
// flattened into waitlist rows, and which newsletter maps to which
// subscription-flag column. Instances are read-only once built and safe
// to share across goroutines.
type FieldConfig struct {
	MainFields        map[string]bool
	WaitlistFields    map[string]bool
	NewsletterMapping map[string]string
}
