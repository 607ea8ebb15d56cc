// Package terminal hosts the chat widget on a line-oriented terminal: it
// renders session snapshots and turns typed lines into session intents.
package terminal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"registerkaro-chat/internal/chat"
	"registerkaro-chat/internal/checkout"
	"registerkaro-chat/internal/realtime"
)

// Chat is the part of chat.Session the host drives.
type Chat interface {
	SendMessage(text string)
	NotifyInactivity(reason string)
	ProceedToPayment() error
	ClosePaymentPopup()
	ReopenPaymentPopup() error
	DismissDocumentUpload()
	Subscribe(fn func(chat.State)) func()
	Status() realtime.Status
}

// Resolver reports the outcome of an open checkout.
type Resolver interface {
	Resolve(r checkout.Result) bool
}

type Option func(*Host)

func WithLogger(l *zap.Logger) Option { return func(h *Host) { h.log = l } }

func WithResolver(r Resolver) Option { return func(h *Host) { h.resolver = r } }

// WithIdleTimeout sets how long the user may stay silent before the backend
// is told. Zero disables the notification.
func WithIdleTimeout(d time.Duration) Option { return func(h *Host) { h.idle = d } }

type Host struct {
	chat     Chat
	resolver Resolver
	in       io.Reader
	out      io.Writer
	log      *zap.Logger
	idle     time.Duration

	activity chan struct{}

	mu       sync.Mutex
	rendered int
	status   realtime.Status
	popup    bool
	upload   bool
	loading  bool
}

func New(c Chat, in io.Reader, out io.Writer, opts ...Option) *Host {
	h := &Host{
		chat:     c,
		in:       in,
		out:      out,
		activity: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}
	h.log = h.log.Named("terminal")
	return h
}

// Run renders the session and processes input until /quit, end of input or
// ctx is cancelled.
func (h *Host) Run(ctx context.Context) error {
	unsubscribe := h.chat.Subscribe(h.render)
	defer unsubscribe()
	h.banner()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go h.scan(ctx, lines)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return h.inputLoop(gctx, lines)
	})
	g.Go(func() error {
		return h.idleLoop(gctx)
	})
	return g.Wait()
}

func (h *Host) scan(ctx context.Context, lines chan<- string) {
	defer close(lines)
	sc := bufio.NewScanner(h.in)
	for sc.Scan() {
		select {
		case lines <- sc.Text():
		case <-ctx.Done():
			return
		}
	}
	if err := sc.Err(); err != nil {
		h.log.Warn("input read failed", zap.Error(err))
	}
}

func (h *Host) inputLoop(ctx context.Context, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			h.touch()
			if quit := h.handle(strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func (h *Host) idleLoop(ctx context.Context) error {
	if h.idle <= 0 {
		<-ctx.Done()
		return nil
	}
	timer := time.NewTimer(h.idle)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.activity:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(h.idle)
		case <-timer.C:
			h.log.Debug("user idle", zap.Duration("after", h.idle))
			h.chat.NotifyInactivity(fmt.Sprintf("User inactive for %s", h.idle))
		}
	}
}

func (h *Host) touch() {
	select {
	case h.activity <- struct{}{}:
	default:
	}
}

// handle runs one input line and reports whether the user asked to quit.
func (h *Host) handle(line string) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		h.chat.SendMessage(line)
		return false
	}

	cmd := strings.ToLower(strings.Fields(line)[0])
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		h.help()
	case "/status":
		h.printf("Status: %s\n", chat.StatusLabel(h.chat.Status()))
	case "/pay":
		if err := h.chat.ProceedToPayment(); err != nil {
			if errors.Is(err, chat.ErrNoPaymentLink) {
				h.printf("No payment link has been offered yet.\n")
			} else {
				h.printf("Could not open checkout: %v\n", err)
			}
		}
	case "/close":
		h.chat.ClosePaymentPopup()
	case "/reopen":
		if err := h.chat.ReopenPaymentPopup(); err != nil {
			h.printf("No payment link has been offered yet.\n")
		}
	case "/paid":
		h.resolve(checkout.Result{Outcome: checkout.Completed})
	case "/cancel":
		h.resolve(checkout.Result{Outcome: checkout.Dismissed})
	case "/failed":
		h.resolve(checkout.Result{Outcome: checkout.Failed, Reason: "reported by user"})
	case "/dismiss":
		h.chat.DismissDocumentUpload()
	default:
		if n, err := strconv.Atoi(strings.TrimPrefix(cmd, "/")); err == nil && n >= 1 && n <= len(chat.QuickActions) {
			h.chat.SendMessage(chat.QuickActions[n-1])
			return false
		}
		h.printf("Unknown command %s. Type /help for the list.\n", cmd)
	}
	return false
}

func (h *Host) resolve(r checkout.Result) {
	if h.resolver == nil || !h.resolver.Resolve(r) {
		h.printf("No checkout is open.\n")
	}
}

// render prints what changed since the previous snapshot.
func (h *Host) render(st chat.State) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if st.Status != h.status {
		h.status = st.Status
		fmt.Fprintf(h.out, "-- %s --\n", chat.StatusLabel(st.Status))
	}
	for _, e := range st.Entries[min(h.rendered, len(st.Entries)):] {
		who := "Assistant"
		if e.Role == chat.RoleUser {
			who = "You"
		}
		fmt.Fprintf(h.out, "[%s] %s: %s\n", e.Time, who, e.Content)
	}
	h.rendered = len(st.Entries)

	if st.Loading && !h.loading {
		fmt.Fprintln(h.out, "Typing...")
	}
	h.loading = st.Loading

	if st.ShowPaymentPopup && !h.popup && st.PaymentLink != "" {
		fmt.Fprintln(h.out, "Complete Payment: click through to securely pay for your company registration.")
		fmt.Fprintln(h.out, "Type /pay to proceed or /close to dismiss.")
	}
	h.popup = st.ShowPaymentPopup

	if st.DocumentUploadRequested && !h.upload {
		fmt.Fprintln(h.out, "The assistant asked for your documents. Upload them on registerkaro.in, then type /dismiss.")
	}
	h.upload = st.DocumentUploadRequested
}

func (h *Host) banner() {
	h.printf("RegisterKaro chat with CA Amit Aggrawal\n")
	h.help()
}

func (h *Host) help() {
	var b strings.Builder
	b.WriteString("Quick questions:\n")
	for i, q := range chat.QuickActions {
		fmt.Fprintf(&b, "  /%d  %s\n", i+1, q)
	}
	b.WriteString("Commands: /pay /close /reopen /paid /cancel /failed /dismiss /status /help /quit\n")
	h.printf("%s", b.String())
}

func (h *Host) printf(format string, args ...any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprintf(h.out, format, args...)
}
