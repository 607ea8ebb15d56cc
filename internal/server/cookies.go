package server

import (
	"net/http"
	"time"
)

const (
	// VisitorCookieName carries the returning-visitor id on the upgrade
	// request, for hosts that keep a cookie jar.
	VisitorCookieName   = "registerkaro_visitor"
	VisitorCookieMaxAge = 365 * 24 * time.Hour
)

// visitorCookie builds the cookie that remembers a returning visitor.
func visitorCookie(cookieID string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     VisitorCookieName,
		Value:    cookieID,
		Path:     "/",
		MaxAge:   int(VisitorCookieMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	}
}

// visitorHeader returns upgrade response headers that set the visitor cookie.
func visitorHeader(cookieID string, secure bool) http.Header {
	h := http.Header{}
	if c := visitorCookie(cookieID, secure); c.Valid() == nil {
		h.Add("Set-Cookie", c.String())
	}
	return h
}

// GetVisitorCookie reads the visitor id from the request, "" when absent.
func GetVisitorCookie(r *http.Request) string {
	c, err := r.Cookie(VisitorCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}
