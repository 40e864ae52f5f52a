package agentgate

import (
	"encoding/json"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// DecisionHeader carries the decision ID on every response the
// middleware lets through, so callers can correlate it with the audit log.
const DecisionHeader = "X-Agentgate-Decision"

type blockedResponse struct {
	Blocked    bool   `json:"blocked"`
	Decision   string `json:"decision"`
	ReasonCode string `json:"reason_code"`
	Reason     string `json:"reason"`
	DecisionID string `json:"decision_id"`
}

// Middleware decides each request before passing it to next. A request
// that is not allowed gets 403 with a JSON body; a gate failure gets 503.
// Either way next is not called.
func (c *Client) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, err := c.Check(r.Context(), actionFromRequest(r))
		if err != nil {
			http.Error(w, "agentgate: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set(DecisionHeader, res.DecisionID)

		if !res.Allowed() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(blockedResponse{
				Blocked:    true,
				Decision:   string(res.Decision),
				ReasonCode: res.ReasonCode,
				Reason:     res.Reason,
				DecisionID: res.DecisionID,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// actionFromRequest describes a request as an http:<method> event.
func actionFromRequest(r *http.Request) Action {
	target := r.URL.String()
	if r.URL.Host == "" && r.Host != "" {
		target = r.Host + r.URL.RequestURI()
	}
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	return Action{
		EventType: "http:" + strings.ToLower(r.Method),
		Payload: map[string]any{
			"url":         target,
			"method":      r.Method,
			"destination": host,
			"egress":      egress(host),
			"bytes":       max(r.ContentLength, 0),
		},
	}
}

// egress is "internal" for loopback and private addresses and for
// localhost, "external" for everything else.
func egress(host string) string {
	if strings.EqualFold(host, "localhost") {
		return "internal"
	}
	if addr, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() {
			return "internal"
		}
	}
	return "external"
}
