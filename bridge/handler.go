package bridge

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Entry points the shell calls.
const (
	RouteAppLogin  = "/bridge/handleAppLogin"
	RouteAppLogout = "/bridge/handleAppLogout"
)

// Handler exposes handleAppLogin and handleAppLogout to the shell.
func (n *Native) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post(RouteAppLogin, n.handleAppLogin)
	r.Post(RouteAppLogout, n.handleAppLogout)
	return r
}

func (n *Native) handleAppLogin(w http.ResponseWriter, r *http.Request) {
	var info LoginInfo
	if err := json.NewDecoder(r.Body).Decode(&info); err != nil {
		http.Error(w, "invalid login info", http.StatusBadRequest)
		return
	}
	if err := n.OnNativeLogin(r.Context(), info); err != nil {
		n.log.Warn().
			Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("rejected login from shell")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (n *Native) handleAppLogout(w http.ResponseWriter, r *http.Request) {
	n.OnNativeLogout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}
