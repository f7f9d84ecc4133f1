package model

// Intent action codes accepted by the generic action-intent endpoints. A
// reservation create has its own dedicated endpoints; everything else goes
// through /intents/actions with one of these codes.
const (
	ActionCancelRequest = "CANCEL_REQUEST"
	ActionCancelBooking = "CANCEL_BOOKING"
	ActionRequestFunds  = "REQUEST_FUNDS"
)

// Authorization ceremony outcomes reported by the backend's
// authorization-status endpoint.
const (
	AuthStatusSuccess   = "SUCCESS"
	AuthStatusFailed    = "FAILED"
	AuthStatusCancelled = "CANCELLED"
	AuthStatusUnknown   = "UNKNOWN"
)

// Intent execution states reported by the execution-status endpoint. An
// intent stays "processing" until the backend has signed and submitted the
// transaction and observed its result.
const (
	ExecStatusProcessing = "processing"
	ExecStatusExecuted   = "executed"
	ExecStatusFailed     = "failed"
	ExecStatusRejected   = "rejected"
)

// ExecTerminal reports whether an execution status needs no further polling.
func ExecTerminal(status string) bool {
	return status == ExecStatusExecuted || status == ExecStatusFailed || status == ExecStatusRejected
}

// PrepareReservation is the payload for POST /intents/reservations/prepare.
// All chain integers travel as decimal strings on the wire.
type PrepareReservation struct {
	LabID       string `json:"labId"`
	UserAddress string `json:"userAddress"`
	Start       string `json:"start"`
	End         string `json:"end"`
	BackendURL  string `json:"backendUrl,omitempty"`
}

// PrepareAction is the payload for POST /intents/actions/prepare.
type PrepareAction struct {
	Action         string `json:"action"`
	ReservationKey string `json:"reservationKey,omitempty"`
	UserAddress    string `json:"userAddress"`
	Amount         string `json:"amount,omitempty"`
	BackendURL     string `json:"backendUrl,omitempty"`
}

// PrepareResponse is returned by both prepare endpoints. Exactly one of
// AuthorizationURL (supervised-window flow) or WebauthnChallenge (credential
// ceremony flow) is set.
type PrepareResponse struct {
	Intent                 string `json:"intent"`
	AuthorizationURL       string `json:"authorizationUrl,omitempty"`
	WebauthnChallenge      string `json:"webauthnChallenge,omitempty"`
	AuthorizationSessionID string `json:"authorizationSessionId"`
	BackendURL             string `json:"backendUrl,omitempty"`
	BackendAuthToken       string `json:"backendAuthToken,omitempty"`
}

// FinalizeRequest is the payload for the assertion-based finalize endpoints.
type FinalizeRequest struct {
	Intent                 string `json:"intent"`
	AuthorizationSessionID string `json:"authorizationSessionId"`
	Assertion              string `json:"assertion"`
}

// FinalizeResponse reports the outcome of an assertion-based finalize.
type FinalizeResponse struct {
	Intent    string `json:"intent"`
	Status    string `json:"status"`
	RequestID string `json:"requestId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// AuthStatus is the body of the authorization-status endpoint polled while
// a supervised window is open.
type AuthStatus struct {
	Status    string `json:"status"`
	RequestID string `json:"requestId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ExecStatus is the body of the execution-status endpoint polled after a
// successful authorization.
type ExecStatus struct {
	Status         string `json:"status"`
	TxHash         string `json:"txHash,omitempty"`
	ReservationKey string `json:"reservationKey,omitempty"`
	Error          string `json:"error,omitempty"`
}
