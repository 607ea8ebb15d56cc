package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"registerkaro-chat/internal/types"
)

const (
	writeWait     = 10 * time.Second
	maxFrameBytes = 64 << 10
)

// peer is one client channel. Identity fields are owned by serve.
type peer struct {
	srv     *Server
	conn    *websocket.Conn
	log     *zap.Logger
	visitor string

	writeMu   sync.Mutex
	closeOnce sync.Once

	sessionID  string
	cookieID   string
	deviceID   string
	previousID string
}

func newPeer(s *Server, conn *websocket.Conn, visitor string) *peer {
	return &peer{
		srv:     s,
		conn:    conn,
		visitor: visitor,
		log:     s.log.With(zap.String("remote", conn.RemoteAddr().String())),
	}
}

func (p *peer) serve() {
	defer p.close()
	p.conn.SetReadLimit(maxFrameBytes)
	p.log.Debug("channel opened")

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.log.Warn("channel read failed", zap.Error(err))
			} else {
				p.log.Debug("channel closed", zap.Error(err))
			}
			return
		}
		var f types.OutboundFrame
		if err := json.Unmarshal(data, &f); err != nil {
			p.log.Warn("invalid frame", zap.Error(err))
			continue
		}
		if err := p.handle(f); err != nil {
			p.log.Warn("channel write failed", zap.Error(err))
			return
		}
	}
}

func (p *peer) handle(f types.OutboundFrame) error {
	switch f.Type {
	case types.FrameCookieID:
		p.cookieID = f.CookieID
	case types.FrameDeviceID:
		p.deviceID = f.DeviceID
	case types.FramePreviousSessionID:
		p.previousID = f.PreviousSessionID
	case types.FrameClientInfo:
		if f.CookieID != "" {
			p.cookieID = f.CookieID
		}
		if f.ClientInfo != nil {
			p.log.Info("client info",
				zap.String("device_id", f.ClientInfo.Device.DeviceID),
				zap.String("platform", f.ClientInfo.Device.Platform),
				zap.String("language", f.ClientInfo.Device.Language),
				zap.String("screen_size", f.ClientInfo.Device.ScreenSize))
		}
		return p.startSession()
	case types.FrameMessage:
		if p.cookieID == "" {
			p.cookieID = f.CookieID
		}
		if p.deviceID == "" {
			p.deviceID = f.DeviceID
		}
		return p.reply(f.Text)
	case types.FrameInactive:
		p.log.Info("client inactive", zap.String("context", f.Context))
		if p.srv.script.FollowUp == "" {
			return nil
		}
		return p.send(types.Event{Type: types.EventFollowUp, Text: p.srv.script.FollowUp})
	default:
		p.log.Debug("ignoring frame", zap.String("type", f.Type))
	}
	return nil
}

// startSession assigns or resumes a session once the client has finished
// its identity bootstrap.
func (p *peer) startSession() error {
	sessions := p.srv.sessions
	hadCookie := p.cookieID != ""

	resumed := false
	sid := p.previousID
	if sid != "" {
		known, err := sessions.Get(sessionKey(sid))
		if err != nil {
			p.log.Warn("session lookup failed", zap.String("session_id", sid), zap.Error(err))
		}
		if known != "" {
			resumed = true
			if p.cookieID == "" {
				p.cookieID = known
			}
		}
	}
	if !resumed {
		sid = p.srv.newID()
	}
	if p.cookieID == "" {
		p.cookieID = p.visitor
	}
	p.sessionID = sid
	if err := sessions.Set(sessionKey(sid), p.cookieID); err != nil {
		p.log.Warn("failed to record session", zap.String("session_id", sid), zap.Error(err))
	}

	p.log = p.log.With(zap.String("session_id", sid))
	p.log.Info("session started", zap.Bool("resumed", resumed), zap.String("device_id", p.deviceID))

	if err := p.send(types.Event{Type: types.EventSessionInfo, SessionID: sid}); err != nil {
		return err
	}
	if !hadCookie {
		if err := p.send(types.Event{Type: types.EventSetCookie, CookieID: p.cookieID}); err != nil {
			return err
		}
	}
	if !resumed && p.srv.script.Greeting != "" {
		return p.send(types.Event{Type: types.EventMessage, Text: p.srv.script.Greeting})
	}
	return nil
}

func (p *peer) reply(text string) error {
	rule := p.srv.script.Match(text)
	p.log.Debug("matched rule", zap.String("rule", rule.Name))

	if err := p.send(types.Event{Type: types.EventMessage, Text: rule.Reply}); err != nil {
		return err
	}
	if rule.PaymentLink != "" {
		if err := p.send(types.Event{Type: types.EventPaymentLink, Link: rule.PaymentLink}); err != nil {
			return err
		}
	}
	if rule.DocumentUpload {
		return p.send(types.Event{Type: types.EventShowDocumentUpload})
	}
	return nil
}

func (p *peer) send(ev types.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteMessage(websocket.TextMessage, b)
}

func (p *peer) close() {
	p.closeOnce.Do(func() { _ = p.conn.Close() })
}
