package handlers

import (
	"encoding/json"
	"errors"
	"image"
	"mime"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/faceauth/internal/auth"
	"github.com/kozaktomas/faceauth/internal/capture"
	"github.com/kozaktomas/faceauth/internal/database"
	"github.com/kozaktomas/faceauth/internal/fingerprint"
	"github.com/kozaktomas/faceauth/internal/web/middleware"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	service        *auth.Service
	sessionManager *middleware.SessionManager
	camera         capture.Opener
	logger         *zap.Logger
}

// NewAuthHandler creates a new auth handler. camera may be nil when no
// live capture device is configured.
func NewAuthHandler(service *auth.Service, sm *middleware.SessionManager, camera capture.Opener, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{
		service:        service,
		sessionManager: sm,
		camera:         camera,
		logger:         logger,
	}
}

// loginRequest represents a login request
type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// registerRequest represents a registration request
type registerRequest struct {
	Username  string `json:"username" validate:"required,max=64,username"`
	Password  string `json:"password" validate:"required,min=8,max=128"`
	ImageData string `json:"image_data"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Success   bool   `json:"success"`
	Username  string `json:"username,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
	Error     string `json:"error,omitempty"`
}

// FaceLoginResponse is a login response carrying the verification outcome
type FaceLoginResponse struct {
	LoginResponse
	Outcome *capture.Outcome `json:"outcome,omitempty"`
}

// Login handles password login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if err := validateRequest(&req); err != nil {
		respondError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	username, err := h.service.LoginPassword(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			respondJSON(w, http.StatusUnauthorized, LoginResponse{
				Success: false,
				Error:   "invalid credentials",
			})
			return
		}
		h.logger.Error("password login failed", zap.String("username", sanitizeForLog(req.Username)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "login failed")
		return
	}

	resp, ok := h.startSession(w, r, username, auth.MethodPassword)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Face handles face login from a posted still or the live camera
func (h *AuthHandler) Face(w http.ResponseWriter, r *http.Request) {
	img, err := readPostedImage(r)
	var open capture.Opener
	switch {
	case err == nil:
		open = capture.Still(img)
	case errors.Is(err, errNoImage) && h.camera != nil:
		open = h.camera
	case errors.Is(err, errNoImage):
		respondError(w, http.StatusBadRequest, "image is required")
		return
	case errors.Is(err, fingerprint.ErrUndecodableImage):
		respondError(w, http.StatusBadRequest, "invalid image")
		return
	default:
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.service.LoginFace(r.Context(), open)
	if err != nil {
		respondJSON(w, http.StatusServiceUnavailable, FaceLoginResponse{
			LoginResponse: LoginResponse{Error: "face verification aborted"},
			Outcome:       out,
		})
		return
	}
	if out.Reason == capture.ReasonExtractorUnavailable {
		respondJSON(w, http.StatusServiceUnavailable, FaceLoginResponse{
			LoginResponse: LoginResponse{Error: "face recognition unavailable"},
			Outcome:       out,
		})
		return
	}
	if !out.Accepted {
		respondJSON(w, http.StatusUnauthorized, FaceLoginResponse{
			LoginResponse: LoginResponse{Error: "face not recognized"},
			Outcome:       out,
		})
		return
	}

	resp, ok := h.startSession(w, r, out.Identity, auth.MethodFace)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, FaceLoginResponse{LoginResponse: resp, Outcome: out})
}

// Register creates an account from a username, password and face image.
// Accepts multipart form fields or JSON with an image_data URL.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	req, img, err := h.readRegistration(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	username, err := h.service.Register(r.Context(), req.Username, req.Password, img)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrNoFace):
		respondError(w, http.StatusUnprocessableEntity, "no face detected")
		return
	case errors.Is(err, auth.ErrInvalidUsername):
		respondError(w, http.StatusBadRequest, "invalid field username")
		return
	case errors.Is(err, database.ErrDuplicateIdentity):
		respondError(w, http.StatusConflict, "username already registered")
		return
	case errors.Is(err, auth.ErrFaceUnavailable):
		respondError(w, http.StatusServiceUnavailable, "face recognition unavailable")
		return
	default:
		h.logger.Error("registration failed", zap.String("username", sanitizeForLog(req.Username)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"success":  true,
		"username": username,
	})
}

func (h *AuthHandler) readRegistration(r *http.Request) (registerRequest, image.Image, error) {
	var req registerRequest
	r.Body = http.MaxBytesReader(nil, r.Body, maxUploadSize)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			return req, nil, errors.New(errInvalidRequestBody)
		}
		req.Username = r.FormValue("username")
		req.Password = r.FormValue("password")
		if err := validateRequest(&req); err != nil {
			return req, nil, err
		}
		img, err := readFormImage(r)
		if err != nil {
			return req, nil, imageError(err)
		}
		return req, img, nil
	}

	if err := decodeAndValidate(r, &req); err != nil {
		return req, nil, err
	}
	img, err := decodeDataURLImage(req.ImageData)
	if err != nil {
		return req, nil, imageError(err)
	}
	return req, img, nil
}

func imageError(err error) error {
	if errors.Is(err, errNoImage) {
		return errors.New("image is required")
	}
	return errors.New("invalid image")
}

func (h *AuthHandler) startSession(w http.ResponseWriter, r *http.Request, username, method string) (LoginResponse, bool) {
	session, err := h.sessionManager.CreateSession(username, method)
	if err != nil {
		h.logger.Error("failed to create session", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return LoginResponse{}, false
	}
	h.sessionManager.SetSessionCookie(w, r, session)
	return LoginResponse{
		Success:   true,
		Username:  username,
		SessionID: session.ID,
		ExpiresAt: session.ExpiresAt.Format(time.RFC3339),
	}, true
}

// Logout handles user logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session := h.sessionManager.GetSessionFromRequest(r)
	if session != nil {
		h.sessionManager.DeleteSession(session.ID)
	}

	h.sessionManager.ClearSessionCookie(w)
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// StatusResponse represents the auth status response
type StatusResponse struct {
	Authenticated bool   `json:"authenticated"`
	Username      string `json:"username,omitempty"`
	ExpiresAt     string `json:"expires_at,omitempty"`
	FaceAvailable bool   `json:"face_available"`
}

// Status checks if the user is authenticated by validating the session.
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{FaceAvailable: h.service.FaceAvailable()}
	if session := h.sessionManager.GetSessionFromRequest(r); session != nil {
		resp.Authenticated = true
		resp.Username = session.Username
		resp.ExpiresAt = session.ExpiresAt.Format(time.RFC3339)
	}
	respondJSON(w, http.StatusOK, resp)
}

// Me returns the logged-in user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSessionFromContext(r.Context())
	if session == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"username":   session.Username,
		"method":     session.Method,
		"logged_in":  session.CreatedAt.Format(time.RFC3339),
		"expires_at": session.ExpiresAt.Format(time.RFC3339),
	})
}
