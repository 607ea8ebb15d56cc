// Package chat turns connection events into user-facing conversation state:
// the transcript, the typing indicator and the payment popup.
package chat

import (
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"registerkaro-chat/internal/checkout"
	"registerkaro-chat/internal/realtime"
	"registerkaro-chat/internal/types"
)

var ErrNoPaymentLink = errors.New("chat: no payment link offered")

// Messages sent on the user's behalf during the payment hand-off.
const (
	MsgProceedingToPayment = "I'm proceeding to make the payment now."
	MsgPaymentAlreadyDone  = "Our records show you've already completed payment. If you need assistance with anything else, please let me know."
	MsgPaymentWindowOpened = "I've opened the payment window for you. Once payment is complete, you can return to this chat."
	MsgPaymentVerifying    = "Great! I'm verifying your payment. This should just take a moment..."
	MsgPaymentDismissed    = "I see you've closed the payment window. If you need any more information before proceeding with the payment, please let me know."
	MsgPaymentFailed       = "It looks like there was an issue with the payment. Would you like to try again or use a different payment method?"
)

// QuickActions are the preset prompts offered under the transcript.
var QuickActions = []string{
	"Tell me about the registration process",
	"What documents are required?",
	"What are your pricing plans?",
	"How long does the process take?",
}

// StatusLabel is the presence line shown for a connection status.
func StatusLabel(s realtime.Status) string {
	switch s {
	case realtime.StatusConnected:
		return "Online now"
	case realtime.StatusConnecting:
		return "Connecting..."
	default:
		return "Offline"
	}
}

// Connection is the part of realtime.Manager the session drives.
type Connection interface {
	SendText(text string)
	NotifyInactivity(reason string)
	OnMessage(h realtime.MessageHandler) func()
	OnStatusChange(h realtime.StatusHandler) func()
	Status() realtime.Status
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one transcript line. Entries are never modified once appended.
type Entry struct {
	Role     Role
	Content  string
	Time     string
	At       time.Time
	Metadata map[string]string
}

// State is a snapshot of the session. Entries is a copy and safe to keep.
type State struct {
	Entries                 []Entry
	Loading                 bool
	ShowPaymentPopup        bool
	PaymentLink             string
	PaymentCompleted        bool
	DocumentUploadRequested bool
	Status                  realtime.Status
}

type Option func(*Session)

func WithLogger(l *zap.Logger) Option { return func(s *Session) { s.log = l } }

func WithGateway(g checkout.Gateway) Option { return func(s *Session) { s.gateway = g } }

// WithNow overrides the clock used to stamp transcript entries.
func WithNow(now func() time.Time) Option { return func(s *Session) { s.now = now } }

type Session struct {
	conn    Connection
	gateway checkout.Gateway
	log     *zap.Logger
	now     func() time.Time

	// pub serialises mutate-then-publish so subscribers see snapshots in
	// order. Subscribers must not call back into the session synchronously.
	pub   sync.Mutex
	mu    sync.Mutex
	state State
	subs  []subscriber
	next  int

	unsubscribe []func()
}

type subscriber struct {
	id int
	fn func(State)
}

// NewSession registers the session as a listener on conn.
func NewSession(conn Connection, opts ...Option) *Session {
	s := &Session{conn: conn, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.log = s.log.Named("chat")
	s.state.Status = conn.Status()
	s.unsubscribe = []func(){
		conn.OnMessage(s.handleEvent),
		conn.OnStatusChange(s.handleStatus),
	}
	return s
}

// Close detaches the session from the connection.
func (s *Session) Close() {
	for _, fn := range s.unsubscribe {
		fn()
	}
	s.unsubscribe = nil
}

// SendMessage appends the user's entry, shows the typing indicator and
// forwards the text. Blank input is ignored.
func (s *Session) SendMessage(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	s.update(func(st *State) bool {
		st.Entries = append(st.Entries, s.entry(RoleUser, text, nil))
		st.Loading = true
		return true
	})
	s.conn.SendText(text)
}

func (s *Session) NotifyInactivity(reason string) {
	s.conn.NotifyInactivity(reason)
}

// ClosePaymentPopup hides the popup. The link is kept so it can be reopened.
func (s *Session) ClosePaymentPopup() {
	s.update(func(st *State) bool {
		if !st.ShowPaymentPopup {
			return false
		}
		st.ShowPaymentPopup = false
		return true
	})
}

// ReopenPaymentPopup shows the popup again for a previously offered link.
func (s *Session) ReopenPaymentPopup() error {
	var err error
	s.update(func(st *State) bool {
		if st.PaymentLink == "" {
			err = ErrNoPaymentLink
			return false
		}
		st.ShowPaymentPopup = true
		return true
	})
	return err
}

// MarkPaymentCompleted records that the user paid. It is idempotent and the
// flag is never cleared for the lifetime of the session.
func (s *Session) MarkPaymentCompleted() {
	s.update(func(st *State) bool {
		if st.PaymentCompleted {
			return false
		}
		st.PaymentCompleted = true
		return true
	})
}

// DismissDocumentUpload clears a pending document upload request.
func (s *Session) DismissDocumentUpload() {
	s.update(func(st *State) bool {
		if !st.DocumentUploadRequested {
			return false
		}
		st.DocumentUploadRequested = false
		return true
	})
}

// ProceedToPayment hands the stored payment link to the checkout gateway.
// When payment was already recorded the user is told so and no checkout is
// opened.
func (s *Session) ProceedToPayment() error {
	st := s.State()
	if st.PaymentLink == "" {
		return ErrNoPaymentLink
	}
	if st.PaymentCompleted {
		s.log.Info("payment already completed, not opening checkout")
		s.SendMessage(MsgPaymentAlreadyDone)
		return nil
	}

	s.SendMessage(MsgProceedingToPayment)
	s.ClosePaymentPopup()

	if s.gateway == nil {
		s.log.Warn("no checkout gateway configured", zap.String("link", st.PaymentLink))
		return nil
	}
	ref, err := checkout.ParseOrderRef(st.PaymentLink)
	if err != nil {
		s.log.Warn("falling back to hosted checkout", zap.Error(err))
	}
	if err := s.gateway.Open(ref, s.checkoutDone); err != nil {
		return err
	}
	if ref.Hosted() {
		s.SendMessage(MsgPaymentWindowOpened)
	}
	return nil
}

func (s *Session) checkoutDone(r checkout.Result) {
	s.log.Info("checkout finished", zap.Stringer("outcome", r.Outcome), zap.String("reason", r.Reason))
	switch r.Outcome {
	case checkout.Completed:
		s.MarkPaymentCompleted()
		s.SendMessage(MsgPaymentVerifying)
	case checkout.Dismissed:
		s.SendMessage(MsgPaymentDismissed)
	case checkout.Failed:
		s.SendMessage(MsgPaymentFailed)
	}
}

// Status passes the connection status through.
func (s *Session) Status() realtime.Status { return s.conn.Status() }

// State returns a snapshot of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers fn to receive a snapshot after every state change.
func (s *Session) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	id := s.next
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

func (s *Session) handleEvent(ev types.Event) {
	switch ev.Type {
	case types.EventMessage, types.EventFollowUp:
		var meta map[string]string
		if ev.Type == types.EventFollowUp {
			meta = map[string]string{"type": string(ev.Type)}
		}
		s.update(func(st *State) bool {
			if ev.Text != "" {
				st.Entries = append(st.Entries, s.entry(RoleAssistant, ev.Text, meta))
			}
			st.Loading = false
			return true
		})
	case types.EventPaymentLink:
		if ev.Link == "" {
			s.log.Warn("payment link event without link")
			return
		}
		s.update(func(st *State) bool {
			st.PaymentLink = ev.Link
			st.ShowPaymentPopup = true
			return true
		})
	case types.EventShowDocumentUpload:
		s.update(func(st *State) bool {
			st.DocumentUploadRequested = true
			return true
		})
	default:
		s.log.Debug("ignoring event", zap.String("type", string(ev.Type)))
	}
}

func (s *Session) handleStatus(status realtime.Status) {
	s.update(func(st *State) bool {
		if st.Status == status {
			return false
		}
		st.Status = status
		return true
	})
}

// update applies fn and publishes the new snapshot when fn reports a change.
func (s *Session) update(fn func(*State) bool) {
	s.pub.Lock()
	defer s.pub.Unlock()

	s.mu.Lock()
	if !fn(&s.state) {
		s.mu.Unlock()
		return
	}
	snap := s.snapshotLocked()
	subs := make([]func(State), len(s.subs))
	for i, sub := range s.subs {
		subs[i] = sub.fn
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

func (s *Session) snapshotLocked() State {
	st := s.state
	st.Entries = append([]Entry(nil), s.state.Entries...)
	return st
}

func (s *Session) entry(role Role, content string, meta map[string]string) Entry {
	at := s.now()
	return Entry{
		Role:     role,
		Content:  content,
		Time:     at.Format(time.Kitchen),
		At:       at,
		Metadata: meta,
	}
}
