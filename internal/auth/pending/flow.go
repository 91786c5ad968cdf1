package pending

import (
	"context"
	"net/http"
	"sort"
	"time"
)

const (
	FlowCookieName = "__sso_flow"

	// maxFlowEntries bounds the cookie when a user opens many login tabs.
	maxFlowEntries = 8
)

// Flow is the browser-held half of the pending state.
type Flow struct {
	States map[string]Entry `json:"states"`
}

type Entry struct {
	Payload   Payload   `json:"payload"`
	CreatedAt time.Time `json:"created_at"`

	// Durable is set when the side-table row was written, which makes the
	// row authoritative for single use.
	Durable bool `json:"durable,omitempty"`
}

func (f *Flow) ensure() {
	if f.States == nil {
		f.States = map[string]Entry{}
	}
}

func (f *Flow) prune(cutoff time.Time) {
	for id, e := range f.States {
		if e.CreatedAt.Before(cutoff) {
			delete(f.States, id)
		}
	}

	if len(f.States) <= maxFlowEntries {
		return
	}

	ids := make([]string, 0, len(f.States))
	for id := range f.States {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return f.States[ids[i]].CreatedAt.Before(f.States[ids[j]].CreatedAt)
	})
	for _, id := range ids[:len(ids)-maxFlowEntries] {
		delete(f.States, id)
	}
}

type flowContextKey struct{}

// WithFlow attaches a repaired flow to the request context. Store.Flow prefers
// it over the cookie.
func WithFlow(ctx context.Context, f Flow) context.Context {
	return context.WithValue(ctx, flowContextKey{}, f)
}

func flowFromContext(ctx context.Context) (Flow, bool) {
	f, ok := ctx.Value(flowContextKey{}).(Flow)
	return f, ok
}

func (s *Store) readCookie(r *http.Request) Flow {
	var f Flow
	c, err := r.Cookie(FlowCookieName)
	if err != nil || c.Value == "" {
		f.ensure()
		return f
	}
	if err := s.signer.verify(c.Value, &f); err != nil {
		f = Flow{}
	}
	f.ensure()
	return f
}

func (s *Store) writeCookie(w http.ResponseWriter, f Flow) error {
	if len(f.States) == 0 {
		http.SetCookie(w, &http.Cookie{
			Name:     FlowCookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   s.secure,
			SameSite: http.SameSiteLaxMode,
		})
		return nil
	}

	value, err := s.signer.sign(f)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     FlowCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(s.ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}
