// Package checkout is the hand-off boundary to the third-party payment
// checkout. The chat core never processes payments itself; it resolves an
// order reference from the offered link, opens a Gateway, and later learns
// only whether the user completed, dismissed or failed the payment.
package checkout

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrNoOrderID = errors.New("checkout: no order id in payment link")

const (
	brandedPathPrefix = "/l/RegisterKaro-"
	shortPathPrefix   = "/l/"
)

// OrderRef identifies the order behind a payment link. An empty OrderID
// means the gateway must fall back to the hosted link.
type OrderRef struct {
	Link    string
	OrderID string
}

func (r OrderRef) Hosted() bool { return r.OrderID == "" }

// ParseOrderRef extracts the order id from a payment link. It tries the
// order_id query parameter, then the branded short-link path, then any
// short-link path. The returned ref always carries the link, so callers can
// fall back to it when ErrNoOrderID is returned.
func ParseOrderRef(link string) (OrderRef, error) {
	ref := OrderRef{Link: link}
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ref, fmt.Errorf("%w: invalid link %q", ErrNoOrderID, link)
	}

	if id := u.Query().Get("order_id"); id != "" {
		ref.OrderID = id
		return ref, nil
	}
	for _, prefix := range []string{brandedPathPrefix, shortPathPrefix} {
		if _, rest, ok := strings.Cut(u.Path, prefix); ok {
			if id, _, _ := strings.Cut(rest, "/"); id != "" {
				ref.OrderID = id
				return ref, nil
			}
		}
	}
	return ref, fmt.Errorf("%w: %s", ErrNoOrderID, link)
}

type Outcome int

const (
	Completed Outcome = iota
	Dismissed
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Dismissed:
		return "dismissed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is reported once per opened checkout.
type Result struct {
	Outcome Outcome
	// Reason is the gateway's failure description, if any.
	Reason string
}

// Gateway opens a checkout for ref and calls done exactly once when the
// user finishes with it. done may run on any goroutine.
type Gateway interface {
	Open(ref OrderRef, done func(Result)) error
}
