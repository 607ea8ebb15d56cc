package realtime

// Status is the connection state reported to listeners.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Active reports whether a transport is being established or is open.
func (s Status) Active() bool {
	return s == StatusConnecting || s == StatusConnected
}
