package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ledgerwise/authcore"
	"github.com/ledgerwise/authcore/cookie"
	"github.com/ledgerwise/authcore/internal/httpx"
	"github.com/ledgerwise/authcore/middleware"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type handler struct {
	engine    *authcore.Engine
	transport *cookie.Transport
	log       *zap.Logger
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type sessionResponse struct {
	User      authcore.Profile `json:"user"`
	CSRFToken string           `json:"csrfToken"`
}

type profileResponse struct {
	User authcore.Profile `json:"user"`
}

type csrfResponse struct {
	CSRFToken string `json:"csrfToken"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req, false); err != nil {
		httpx.WriteError(w, err)
		return
	}

	res, err := h.engine.Register(r.Context(), authcore.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSession(w, http.StatusCreated, res)
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req, false); err != nil {
		httpx.WriteError(w, err)
		return
	}

	res, err := h.engine.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSession(w, http.StatusOK, res)
}

// refresh reads the refresh cookie, or a JSON body for API clients.
func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	tok, ok := h.transport.ExtractRefresh(r)
	if !ok {
		var req refreshRequest
		if err := decodeJSON(r, &req, true); err == nil {
			tok = req.RefreshToken
		}
	}
	if tok == "" {
		h.transport.Clear(w)
		httpx.WriteError(w, authcore.ErrInvalidRefreshToken)
		return
	}

	res, err := h.engine.Refresh(r.Context(), tok)
	if err != nil {
		if errors.Is(err, authcore.ErrInvalidRefreshToken) {
			h.transport.Clear(w)
		}
		h.writeError(w, r, err)
		return
	}
	h.writeSession(w, http.StatusOK, res)
}

func (h *handler) profile(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())

	profile, err := h.engine.Profile(r.Context(), p.Subject)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, profileResponse{User: profile})
}

// logout always succeeds once past the CSRF guard.
func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	tok, _ := h.transport.ExtractRefresh(r)
	_ = h.engine.Logout(r.Context(), tok)

	h.transport.Clear(w)
	httpx.WriteJSON(w, http.StatusOK, messageResponse{Message: "Logged out."})
}

func (h *handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(r, &req, false); err != nil {
		httpx.WriteError(w, err)
		return
	}

	p, _ := middleware.PrincipalFromContext(r.Context())
	res, err := h.engine.ChangePassword(r.Context(), p.Subject, req.CurrentPassword, req.NewPassword)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSession(w, http.StatusOK, res)
}

func (h *handler) csrfToken(w http.ResponseWriter, r *http.Request) {
	tok, err := h.engine.IssueCSRFToken()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, csrfResponse{CSRFToken: tok})
}

func (h *handler) writeSession(w http.ResponseWriter, status int, res *authcore.SessionResult) {
	h.transport.Attach(w, res.AccessToken, res.RefreshToken)
	httpx.WriteJSON(w, status, sessionResponse{User: res.User, CSRFToken: res.CSRFToken})
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if authcore.KindOf(err) == authcore.KindInternal {
		h.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", authcore.RequestIDFromContext(r.Context())),
			zap.Error(err),
		)
	}
	httpx.WriteError(w, err)
}

// decodeJSON reads one JSON object from the request body. An empty body is
// accepted when optional is set.
func decodeJSON(r *http.Request, dst any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF) && optional:
		return nil
	default:
		return &authcore.ValidationError{Fields: map[string]string{"body": "must be a JSON object with known fields"}}
	}
}
