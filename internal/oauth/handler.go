package oauth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-oauth-go/internal/provider"
	"github.com/ovaphlow/pitchfork/service-oauth-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-oauth-go/internal/token"
)

// Handler exposes the login, session and callback endpoints.
type Handler struct {
	svc         *OAuthService
	frontendURL string
	logger      *zap.SugaredLogger
}

// NewHandler builds a handler. frontendURL receives the callback redirect.
func NewHandler(svc *OAuthService, frontendURL string, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{svc: svc, frontendURL: frontendURL, logger: logger}
}

// Routes mounts the handler on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/{provider}/auth-url", h.AuthURL)
	r.Get("/{provider}/callback", h.Callback)
	r.Post("/{provider}/token", h.Token)
	r.Get("/user", h.User)
	r.Post("/validate", h.Validate)
	r.Post("/refresh", h.Refresh)
	r.Post("/logout", h.Logout)
}

type AuthURLResponse struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state"`
}

func (h *Handler) AuthURL(w http.ResponseWriter, r *http.Request) {
	u, state, err := h.svc.AuthURL(chi.URLParam(r, "provider"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, AuthURLResponse{AuthURL: u, State: state})
}

// Callback receives the provider redirect, records the code and hands it to
// the frontend, which then calls the token endpoint.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	p := chi.URLParam(r, "provider")
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		h.logger.Infow("provider returned error", "provider", p, "error", e)
		h.redirect(w, r, url.Values{"error": {e}, "provider": {p}})
		return
	}
	code, state := q.Get("code"), q.Get("state")
	if err := h.svc.RegisterCode(r.Context(), p, code, state); err != nil {
		h.logger.Warnw("register code failed", "provider", p, "err", err)
		if errors.Is(err, provider.ErrUnknownProvider) {
			h.writeError(w, err)
			return
		}
		h.redirect(w, r, url.Values{"error": {errorCode(err)}, "provider": {p}})
		return
	}
	v := url.Values{"code": {code}, "provider": {p}}
	if state != "" {
		v.Set("state", state)
	}
	h.redirect(w, r, v)
}

func (h *Handler) redirect(w http.ResponseWriter, r *http.Request, v url.Values) {
	target := h.frontendURL
	if strings.Contains(target, "?") {
		target += "&" + v.Encode()
	} else {
		target += "?" + v.Encode()
	}
	http.Redirect(w, r, target, http.StatusFound)
}

type TokenRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid token payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	s, err := h.svc.IssueSession(r.Context(), chi.URLParam(r, "provider"), req.Code, req.State)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, s)
}

func (h *Handler) User(w http.ResponseWriter, r *http.Request) {
	tok, ok := bearer(r)
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
		return
	}
	u, err := h.svc.CurrentUser(r.Context(), tok)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, u)
}

type ValidateRequest struct {
	Token string `json:"token"`
}

type ValidateResponse struct {
	Valid bool `json:"valid"`
}

func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	h.writeJSON(w, http.StatusOK, ValidateResponse{Valid: h.svc.ValidateSession(req.Token)})
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	s, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, s)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	tok, ok := bearer(r)
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
		return
	}
	if err := h.svc.Logout(r.Context(), tok); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func bearer(r *http.Request) (string, bool) {
	const prefix = "bearer "
	v := r.Header.Get("Authorization")
	if len(v) <= len(prefix) || !strings.EqualFold(v[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(v[len(prefix):])
	return tok, tok != ""
}

// errorCode maps service errors onto the short codes sent to clients.
func errorCode(err error) string {
	switch {
	case errors.Is(err, provider.ErrUnknownProvider):
		return "unknown_provider"
	case errors.Is(err, ErrInvalidAuthorizationCode):
		return "invalid_code"
	case errors.Is(err, ErrProviderExchange):
		return "provider_error"
	case errors.Is(err, session.ErrInvalidToken), errors.Is(err, ErrSessionRevoked):
		return "invalid_token"
	case errors.Is(err, token.ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "server_error"
	}
}

func statusFor(err error) int {
	switch errorCode(err) {
	case "unknown_provider":
		return http.StatusNotFound
	case "invalid_code":
		return http.StatusBadRequest
	case "provider_error":
		return http.StatusBadGateway
	case "invalid_token":
		return http.StatusUnauthorized
	case "store_unavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warnw("request failed", "status", status, "err", err)
	} else {
		h.logger.Debugw("request rejected", "status", status, "err", err)
	}
	h.writeJSON(w, status, map[string]string{"error": errorCode(err)})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
