package api

// ErrorResponse is a generic structure for returning errors via API.
type ErrorResponse struct {
	Error   string `json:"error"`             // A high-level error message or code
	Details string `json:"details,omitempty"` // More specific details about the error, if available
}

// WebhookAck is the acknowledgement body payment providers expect on a 2xx.
type WebhookAck struct {
	Received bool `json:"received"`
}
