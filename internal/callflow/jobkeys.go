package callflow

// Job-info field names under callstate's `callers:{phone}:job:{field}` key
// (spec.md §3's free-form job-info map), collected here so every handler
// that reads or writes one uses the same literal.
const (
	keyIntent        = "Intent"
	keyProviderName  = "ProviderName"
	keyPrice         = "Price"
	keyMinutes       = "Minutes"
	keySTTJobID      = "STTJobID"
	keyHangupReason  = "HangupReason"
)
