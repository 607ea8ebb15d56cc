package types

import "encoding/json"

// EventType tags an inbound frame from the assistant backend.
type EventType string

const (
	EventMessage            EventType = "message"
	EventFollowUp           EventType = "follow_up"
	EventPaymentLink        EventType = "payment_link"
	EventShowDocumentUpload EventType = "show_document_upload"
	EventSessionInfo        EventType = "session_info"
	EventSetCookie          EventType = "set_cookie"
)

// Outbound frame tags.
const (
	FrameMessage           = "message"
	FrameInactive          = "inactive"
	FrameCookieID          = "cookie_id"
	FrameDeviceID          = "device_id"
	FramePreviousSessionID = "previous_session_id"
	FrameClientInfo        = "client_info"
)

// Event is one decoded inbound frame. Raw keeps the bytes as received so
// listeners can read fields this struct does not model.
type Event struct {
	Type             EventType       `json:"type"`
	Text             string          `json:"text,omitempty"`
	Link             string          `json:"link,omitempty"`
	SessionID        string          `json:"session_id,omitempty"`
	CookieID         string          `json:"cookie_id,omitempty"`
	RequiresCookie   bool            `json:"requires_cookie,omitempty"`
	RequiresDeviceID bool            `json:"requires_device_id,omitempty"`
	Raw              json.RawMessage `json:"-"`
}

// OutboundFrame is the union of every frame the client sends. Empty fields
// are omitted so unknown identity never reaches the wire.
type OutboundFrame struct {
	Type              string      `json:"type"`
	Text              string      `json:"text,omitempty"`
	SessionID         string      `json:"session_id,omitempty"`
	CookieID          string      `json:"cookie_id,omitempty"`
	DeviceID          string      `json:"device_id,omitempty"`
	Context           string      `json:"context,omitempty"`
	PreviousSessionID string      `json:"previous_session_id,omitempty"`
	ClientInfo        *ClientInfo `json:"client_info,omitempty"`
}

// ClientInfo is the descriptor sent during identity bootstrap.
type ClientInfo struct {
	Device DeviceInfo `json:"device"`
}

type DeviceInfo struct {
	DeviceID   string `json:"device_id"`
	Platform   string `json:"platform"`
	UserAgent  string `json:"user_agent"`
	ScreenSize string `json:"screen_size"`
	Language   string `json:"language"`
	LastVisit  string `json:"last_visit"`
}

// Identity correlates a client with backend conversation state. An empty
// field means the identifier has not been established yet.
type Identity struct {
	SessionID string `json:"session_id,omitempty"`
	CookieID  string `json:"cookie_id,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
}

// Stamp copies the identity fields onto f. Empty ones stay empty and are
// omitted on the wire.
func (id Identity) Stamp(f OutboundFrame) OutboundFrame {
	f.SessionID = id.SessionID
	f.CookieID = id.CookieID
	f.DeviceID = id.DeviceID
	return f
}

type ErrorResponse struct {
	Error string `json:"error"`
}
