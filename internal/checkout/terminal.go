package checkout

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

var ErrCheckoutOpen = errors.New("checkout: a checkout is already open")

// TerminalGateway prints the hosted payment link and waits for the host to
// report the outcome through Resolve.
type TerminalGateway struct {
	out io.Writer
	log *zap.Logger

	mu      sync.Mutex
	ref     OrderRef
	pending func(Result)
}

func NewTerminalGateway(out io.Writer, log *zap.Logger) *TerminalGateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &TerminalGateway{out: out, log: log.Named("checkout")}
}

func (g *TerminalGateway) Open(ref OrderRef, done func(Result)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending != nil {
		return ErrCheckoutOpen
	}
	g.ref = ref
	g.pending = done

	if ref.Hosted() {
		fmt.Fprintf(g.out, "Complete your payment at %s\n", ref.Link)
	} else {
		fmt.Fprintf(g.out, "Complete payment for order %s at %s\n", ref.OrderID, ref.Link)
	}
	fmt.Fprintln(g.out, "Type /paid when done, /cancel to close the payment window.")
	g.log.Info("checkout opened", zap.String("order_id", ref.OrderID), zap.Bool("hosted", ref.Hosted()))
	return nil
}

// Resolve reports the outcome of the open checkout. It returns false when
// no checkout is open.
func (g *TerminalGateway) Resolve(r Result) bool {
	g.mu.Lock()
	done := g.pending
	ref := g.ref
	g.pending = nil
	g.ref = OrderRef{}
	g.mu.Unlock()

	if done == nil {
		return false
	}
	g.log.Info("checkout resolved", zap.String("order_id", ref.OrderID), zap.Stringer("outcome", r.Outcome))
	done(r)
	return true
}

// Pending returns the open checkout, if any.
func (g *TerminalGateway) Pending() (OrderRef, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ref, g.pending != nil
}
