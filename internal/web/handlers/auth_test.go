package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/faceauth/internal/auth"
	"github.com/kozaktomas/faceauth/internal/capture"
	"github.com/kozaktomas/faceauth/internal/database"
	"github.com/kozaktomas/faceauth/internal/fingerprint"
	"github.com/kozaktomas/faceauth/internal/web/middleware"
)

func addAccount(t *testing.T, env *testEnv, username, password string) {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	env.accounts.AddAccount(database.Account{Username: username, PasswordHash: hash})
}

func TestAuthHandler_Login_Success(t *testing.T) {
	env := newTestEnv(t, stubExtractor(aliceEmb), nil)
	addAccount(t, env, "testuser", "testpass")

	body := bytes.NewBufferString(`{"username": "TestUser", "password": "testpass"}`)
	req := httptest.NewRequest("POST", "/api/v1/auth/login", body)
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()

	env.handler.Login(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	assertContentType(t, recorder, "application/json")

	var response LoginResponse
	parseJSONResponse(t, recorder, &response)

	if !response.Success {
		t.Error("expected success to be true")
	}
	if response.Username != "testuser" {
		t.Errorf("expected normalized username 'testuser', got '%s'", response.Username)
	}
	if response.SessionID == "" {
		t.Error("expected session_id to be set")
	}
	if response.ExpiresAt == "" {
		t.Error("expected expires_at to be set")
	}
	if sessionCookie(recorder) == nil {
		t.Error("expected session cookie to be set")
	}
}

func TestAuthHandler_Login_MissingCredentials(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing username", `{"username": "", "password": "testpass"}`},
		{"missing password", `{"username": "testuser", "password": ""}`},
		{"missing both", `{"username": "", "password": ""}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, stubExtractor(aliceEmb), nil)

			body := bytes.NewBufferString(tt.body)
			req := httptest.NewRequest("POST", "/api/v1/auth/login", body)
			req.Header.Set("Content-Type", "application/json")
			recorder := httptest.NewRecorder()

			env.handler.Login(recorder, req)

			assertStatusCode(t, recorder, http.StatusBadRequest)
			assertJSONError(t, recorder, "username and password are required")
		})
	}
}

func TestAuthHandler_Login_InvalidJSON(t *testing.T) {
	env := newTestEnv(t, stubExtractor(aliceEmb), nil)

	body := bytes.NewBufferString(`{invalid json}`)
	req := httptest.NewRequest("POST", "/api/v1/auth/login", body)
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()

	env.handler.Login(recorder, req)

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "invalid request body")
}

func TestAuthHandler_Login_AuthFailure(t *testing.T) {
	env := newTestEnv(t, stubExtractor(aliceEmb), nil)
	addAccount(t, env, "testuser", "testpass")

	body := bytes.NewBufferString(`{"username": "testuser", "password": "badpass"}`)
	req := httptest.NewRequest("POST", "/api/v1/auth/login", body)
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()

	env.handler.Login(recorder, req)

	assertStatusCode(t, recorder, http.StatusUnauthorized)

	var response LoginResponse
	parseJSONResponse(t, recorder, &response)

	if response.Success {
		t.Error("expected success to be false")
	}
	if response.Error != "invalid credentials" {
		t.Errorf("expected error 'invalid credentials', got '%s'", response.Error)
	}
	if sessionCookie(recorder) != nil {
		t.Error("expected no session cookie on failure")
	}
}

func TestAuthHandler_Register_Multipart(t *testing.T) {
	env := newTestEnv(t, stubExtractor(aliceEmb), nil)

	body, contentType := multipartBody(t, map[string]string{
		"username": "Alice",
		"password": "password123",
	}, pngBytes(t, 20, 20))
	req := httptest.NewRequest("POST", "/api/v1/auth/register", body)
	req.Header.Set("Content-Type", contentType)
	recorder := httptest.NewRecorder()

	env.handler.Register(recorder, req)

	assertStatusCode(t, recorder, http.StatusCreated)
	if _, err := env.accounts.GetAccount(context.Background(), "alice"); err != nil {
		t.Errorf("expected account to be created: %v", err)
	}
	if ok, _ := env.accounts.Templates.HasTemplate(context.Background(), "alice"); !ok {
		t.Error("expected template to be stored")
	}
}

func TestAuthHandler_Register_DataURL(t *testing.T) {
	env := newTestEnv(t, stubExtractor(aliceEmb), nil)

	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t, 20, 20))
	body := bytes.NewBufferString(`{"username": "bob", "password": "password123", "image_data": "` + dataURL + `"}`)
	req := httptest.NewRequest("POST", "/api/v1/auth/register", body)
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()

	env.handler.Register(recorder, req)

	assertStatusCode(t, recorder, http.StatusCreated)
}

func TestAuthHandler_Register_Errors(t *testing.T) {
	tests := []struct {
		name       string
		fields     map[string]string
		image      func(t *testing.T) []byte
		extractor  *fingerprint.Extractor
		existing   bool
		wantStatus int
		wantError  string
	}{
		{
			name:       "no face",
			fields:     map[string]string{"username": "carol", "password": "password123"},
			image:      func(t *testing.T) []byte { return pngBytes(t, 4, 4) },
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "no face detected",
		},
		{
			name:       "missing image",
			fields:     map[string]string{"username": "carol", "password": "password123"},
			wantStatus: http.StatusBadRequest,
			wantError:  "image is required",
		},
		{
			name:       "garbage image",
			fields:     map[string]string{"username": "carol", "password": "password123"},
			image:      func(*testing.T) []byte { return []byte("not an image") },
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid image",
		},
		{
			name:       "short password",
			fields:     map[string]string{"username": "carol", "password": "short"},
			image:      func(t *testing.T) []byte { return pngBytes(t, 20, 20) },
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid field password",
		},
		{
			name:       "duplicate username",
			fields:     map[string]string{"username": "carol", "password": "password123"},
			image:      func(t *testing.T) []byte { return pngBytes(t, 20, 20) },
			existing:   true,
			wantStatus: http.StatusConflict,
			wantError:  "username already registered",
		},
		{
			name:       "model down",
			fields:     map[string]string{"username": "carol", "password": "password123"},
			image:      func(t *testing.T) []byte { return pngBytes(t, 20, 20) },
			extractor:  fingerprint.Unavailable(nil),
			wantStatus: http.StatusServiceUnavailable,
			wantError:  "face recognition unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := tt.extractor
			if ex == nil {
				ex = stubExtractor(aliceEmb)
			}
			env := newTestEnv(t, ex, nil)
			if tt.existing {
				addAccount(t, env, "carol", "whatever1")
			}

			var img []byte
			if tt.image != nil {
				img = tt.image(t)
			}
			body, contentType := multipartBody(t, tt.fields, img)
			req := httptest.NewRequest("POST", "/api/v1/auth/register", body)
			req.Header.Set("Content-Type", contentType)
			recorder := httptest.NewRecorder()

			env.handler.Register(recorder, req)

			assertStatusCode(t, recorder, tt.wantStatus)
			assertJSONError(t, recorder, tt.wantError)
		})
	}
}

func faceRequest(t *testing.T, img []byte) *http.Request {
	t.Helper()
	body, contentType := multipartBody(t, nil, img)
	req := httptest.NewRequest("POST", "/api/v1/auth/face", body)
	req.Header.Set("Content-Type", contentType)
	return req
}

func TestAuthHandler_Face_Accepted(t *testing.T) {
	env := newTestEnv(t, stubExtractor(aliceEmb), nil)
	env.accounts.Templates.AddTemplate("alice", aliceEmb)

	recorder := httptest.NewRecorder()
	env.handler.Face(recorder, faceRequest(t, pngBytes(t, 20, 20)))

	assertStatusCode(t, recorder, http.StatusOK)

	var response FaceLoginResponse
	parseJSONResponse(t, recorder, &response)

	if !response.Success || response.Username != "alice" {
		t.Errorf("expected alice to be logged in, got %+v", response.LoginResponse)
	}
	if response.Outcome == nil || response.Outcome.Reason != capture.ReasonMatched {
		t.Errorf("expected MATCHED outcome, got %+v", response.Outcome)
	}
	if sessionCookie(recorder) == nil {
		t.Error("expected session cookie to be set")
	}
}

func TestAuthHandler_Face_Rejected(t *testing.T) {
	tests := []struct {
		name       string
		img        func(t *testing.T) []byte
		wantReason capture.Reason
	}{
		{"stranger", func(t *testing.T) []byte { return pngBytes(t, 20, 20) }, capture.ReasonNoMatchWithinTimeout},
		{"no face", func(t *testing.T) []byte { return pngBytes(t, 4, 4) }, capture.ReasonNoFaceDetected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, stubExtractor(aliceEmb), nil)
			env.accounts.Templates.AddTemplate("bob", bobEmb)

			recorder := httptest.NewRecorder()
			env.handler.Face(recorder, faceRequest(t, tt.img(t)))

			assertStatusCode(t, recorder, http.StatusUnauthorized)

			var response FaceLoginResponse
			parseJSONResponse(t, recorder, &response)
			if response.Success {
				t.Error("expected success to be false")
			}
			if response.Outcome == nil || response.Outcome.Reason != tt.wantReason {
				t.Errorf("expected reason %s, got %+v", tt.wantReason, response.Outcome)
			}
			if sessionCookie(recorder) != nil {
				t.Error("expected no session cookie on rejection")
			}
		})
	}
}

func TestAuthHandler_Face_JSONDataURL(t *testing.T) {
	env := newTestEnv(t, stubExtractor(aliceEmb), nil)
	env.accounts.Templates.AddTemplate("alice", aliceEmb)

	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t, 20, 20))
	req := httptest.NewRequest("POST", "/api/v1/auth/face", bytes.NewBufferString(`{"image_data": "`+dataURL+`"}`))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()

	env.handler.Face(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
}

func TestAuthHandler_Face_Camera(t *testing.T) {
	img, err := fingerprint.DecodeImage(pngBytes(t, 20, 20))
	if err != nil {
		t.Fatalf("decoding test image: %v", err)
	}
	opened := 0
	camera := func(ctx context.Context) (capture.FrameSource, error) {
		opened++
		return capture.NewSliceSource(img), nil
	}

	env := newTestEnv(t, stubExtractor(aliceEmb), camera)
	env.accounts.Templates.AddTemplate("alice", aliceEmb)

	recorder := httptest.NewRecorder()
	env.handler.Face(recorder, httptest.NewRequest("POST", "/api/v1/auth/face", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	if opened != 1 {
		t.Errorf("expected camera to be opened once, got %d", opened)
	}
}

func TestAuthHandler_Face_NoImageNoCamera(t *testing.T) {
	env := newTestEnv(t, stubExtractor(aliceEmb), nil)

	recorder := httptest.NewRecorder()
	env.handler.Face(recorder, httptest.NewRequest("POST", "/api/v1/auth/face", nil))

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "image is required")
}

func TestAuthHandler_Face_CameraFailure(t *testing.T) {
	camera := func(ctx context.Context) (capture.FrameSource, error) {
		return nil, errors.New("device busy")
	}
	env := newTestEnv(t, stubExtractor(aliceEmb), camera)

	recorder := httptest.NewRecorder()
	env.handler.Face(recorder, httptest.NewRequest("POST", "/api/v1/auth/face", nil))

	assertStatusCode(t, recorder, http.StatusServiceUnavailable)

	var response FaceLoginResponse
	parseJSONResponse(t, recorder, &response)
	if response.Outcome == nil || response.Outcome.State != capture.StateAborted {
		t.Errorf("expected ABORTED outcome, got %+v", response.Outcome)
	}
}

func TestAuthHandler_Face_ModelUnavailable(t *testing.T) {
	env := newTestEnv(t, fingerprint.Unavailable(nil), nil)

	recorder := httptest.NewRecorder()
	env.handler.Face(recorder, faceRequest(t, pngBytes(t, 20, 20)))

	assertStatusCode(t, recorder, http.StatusServiceUnavailable)

	var response FaceLoginResponse
	parseJSONResponse(t, recorder, &response)
	if response.Error != "face recognition unavailable" {
		t.Errorf("expected unavailable error, got '%s'", response.Error)
	}
}

func TestAuthHandler_Face_InvalidImage(t *testing.T) {
	env := newTestEnv(t, stubExtractor(aliceEmb), nil)

	recorder := httptest.NewRecorder()
	env.handler.Face(recorder, faceRequest(t, []byte("garbage")))

	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "invalid image")
}

func TestAuthHandler_Logout_Success(t *testing.T) {
	env := newTestEnv(t, stubExtractor(aliceEmb), nil)

	// Create a session first.
	session, _ := env.sessions.CreateSession("alice", auth.MethodPassword)

	req := httptest.NewRequest("POST", "/api/v1/auth/logout", nil)
	req.AddCookie(signedCookie(env.sessions, session))
	recorder := httptest.NewRecorder()

	env.handler.Logout(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	var result map[string]bool
	parseJSONResponse(t, recorder, &result)

	if !result["success"] {
		t.Error("expected success to be true")
	}

	// Verify session was deleted.
	if env.sessions.GetSession(session.ID) != nil {
		t.Error("expected session to be deleted")
	}
}

func TestAuthHandler_Logout_NoSession(t *testing.T) {
	env := newTestEnv(t, stubExtractor(aliceEmb), nil)

	req := httptest.NewRequest("POST", "/api/v1/auth/logout", nil)
	recorder := httptest.NewRecorder()

	env.handler.Logout(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	var result map[string]bool
	parseJSONResponse(t, recorder, &result)

	if !result["success"] {
		t.Error("expected success to be true even without session")
	}
}

func TestAuthHandler_Status_Authenticated(t *testing.T) {
	env := newTestEnv(t, stubExtractor(aliceEmb), nil)

	session, _ := env.sessions.CreateSession("alice", auth.MethodFace)

	req := httptest.NewRequest("GET", "/api/v1/auth/status", nil)
	req.AddCookie(signedCookie(env.sessions, session))
	recorder := httptest.NewRecorder()

	env.handler.Status(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)
	assertContentType(t, recorder, "application/json")

	var status StatusResponse
	parseJSONResponse(t, recorder, &status)

	if !status.Authenticated {
		t.Error("expected authenticated to be true")
	}
	if status.Username != "alice" {
		t.Errorf("expected username 'alice', got '%s'", status.Username)
	}
	if status.ExpiresAt == "" {
		t.Error("expected expires_at to be set")
	}
	if !status.FaceAvailable {
		t.Error("expected face_available to be true")
	}
}

func TestAuthHandler_Status_Unauthenticated(t *testing.T) {
	env := newTestEnv(t, fingerprint.Unavailable(nil), nil)

	req := httptest.NewRequest("GET", "/api/v1/auth/status", nil)
	req.AddCookie(&http.Cookie{
		Name:  "faceauth_session",
		Value: "invalid-session-id.invalid-signature",
	})
	recorder := httptest.NewRecorder()

	env.handler.Status(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	var status StatusResponse
	parseJSONResponse(t, recorder, &status)

	if status.Authenticated {
		t.Error("expected authenticated to be false")
	}
	if status.ExpiresAt != "" {
		t.Error("expected expires_at to be empty")
	}
	if status.FaceAvailable {
		t.Error("expected face_available to be false")
	}
}

func TestAuthHandler_Me(t *testing.T) {
	env := newTestEnv(t, stubExtractor(aliceEmb), nil)

	session := &middleware.Session{ID: "s1", Username: "alice", Method: auth.MethodFace}
	req := httptest.NewRequest("GET", "/api/v1/me", nil)
	req = req.WithContext(middleware.SetSessionInContext(req.Context(), session))
	recorder := httptest.NewRecorder()

	env.handler.Me(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	var result map[string]string
	parseJSONResponse(t, recorder, &result)
	if result["username"] != "alice" || result["method"] != auth.MethodFace {
		t.Errorf("unexpected response %v", result)
	}

	recorder = httptest.NewRecorder()
	env.handler.Me(recorder, httptest.NewRequest("GET", "/api/v1/me", nil))
	assertStatusCode(t, recorder, http.StatusUnauthorized)
}

// signedCookie returns the cookie SetSessionCookie would issue for session.
func signedCookie(sm *middleware.SessionManager, session *middleware.Session) *http.Cookie {
	w := httptest.NewRecorder()
	sm.SetSessionCookie(w, httptest.NewRequest("GET", "/", nil), session)
	for _, c := range w.Result().Cookies() {
		if c.Name == "faceauth_session" {
			return c
		}
	}
	return nil
}
