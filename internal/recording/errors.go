package recording

import "errors"

// Sentinel errors whose messages are part of the HTTP API contract and
// surface verbatim in responses.
var (
	ErrAlreadyRecording = errors.New("Aufnahme läuft bereits")
	ErrNotRecording     = errors.New("Keine aktive Aufnahme")
	ErrStreamOpenFailed = errors.New("Konnte Stream nicht öffnen")
)
