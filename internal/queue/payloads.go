package queue

// ImageQueryPayload is the inbound payload on QUEUE_IN (§6.4). BlobURL
// may embed a SAS token (contains "?"); otherwise the receiver falls
// back to the gateway's stored account credentials (the explicit
// strategy selected at construction, per SPEC_FULL.md's resolution of
// the credential-fallback design note).
type ImageQueryPayload struct {
	ImageQueryID string `json:"image_query_id"`
	BlobURL      string `json:"blob_url"`
}

// Valid reports whether required fields are present; callers dead-letter
// on false (§6.4 "Missing fields -> dead-letter").
func (p ImageQueryPayload) Valid() bool {
	return p.ImageQueryID != "" && p.BlobURL != ""
}

// HasEmbeddedCredentials reports whether BlobURL carries its own SAS
// query string rather than relying on stored account credentials.
func (p ImageQueryPayload) HasEmbeddedCredentials() bool {
	for _, c := range p.BlobURL {
		if c == '?' {
			return true
		}
	}
	return false
}

// InferenceResultPayload is published on QUEUE_OUT after a cloud worker
// re-invokes the dispatcher for an escalated query (§6.4).
type InferenceResultPayload struct {
	ImageQueryID string `json:"image_query_id"`
	OK           bool   `json:"ok"`
	Result       any    `json:"result"`
	LatencyMS    int64  `json:"latency_ms"`
}

// FallbackPayload is enqueued by the Query Pipeline when a query cannot
// be decided locally (§4.7 steps 4/6, §6.4).
type FallbackPayload struct {
	QueryID        string `json:"query_id"`
	DetectorID     string `json:"detector_id"`
	BlobPath       string `json:"blob_path"`
	FallbackToken  string `json:"fallback_token"`
}
