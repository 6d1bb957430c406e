package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kozaktomas/faceauth/internal/auth"
	"github.com/kozaktomas/faceauth/internal/capture"
	"github.com/kozaktomas/faceauth/internal/database/mock"
	"github.com/kozaktomas/faceauth/internal/facematch"
	"github.com/kozaktomas/faceauth/internal/fingerprint"
	"github.com/kozaktomas/faceauth/internal/web/middleware"
)

var (
	aliceEmb = facematch.NewEmbedding([]float32{1, 0, 0, 0})
	bobEmb   = facematch.NewEmbedding([]float32{0, 0, 0, 1})
)

// testEnv bundles an auth handler with its in-memory stores.
type testEnv struct {
	handler  *AuthHandler
	sessions *middleware.SessionManager
	accounts *mock.MockAccountStore
}

// stubExtractor sees a face in every image at least 10 pixels wide and
// embeds it as emb.
func stubExtractor(emb facematch.Embedding) *fingerprint.Extractor {
	detector := fingerprint.DetectorFunc(func(_ context.Context, img image.Image) ([]fingerprint.Detection, error) {
		if img.Bounds().Dx() < 10 {
			return nil, nil
		}
		return []fingerprint.Detection{{BBox: facematch.BBox{0, 0, 10, 10}, Score: 0.9}}, nil
	})
	embedder := fingerprint.EmbedderFunc(func(context.Context, image.Image) ([]float32, error) {
		return emb.Values(), nil
	})
	return fingerprint.NewExtractor(detector, embedder, fingerprint.Options{MinConfidence: 0.5, InputSize: 8}, nil)
}

func newTestEnv(t *testing.T, ex *fingerprint.Extractor, camera capture.Opener) *testEnv {
	t.Helper()
	templates := mock.NewMockTemplateStore()
	accounts := mock.NewMockAccountStore(templates)
	session := capture.NewSession(ex, facematch.NewMatcher(0.6), auth.Gallery(templates), capture.Options{Timeout: time.Second}, nil)
	svc := auth.NewService(accounts, templates, ex, session, nil)

	sm := middleware.NewSessionManager("test-secret", nil)
	t.Cleanup(sm.Stop)

	return &testEnv{
		handler:  NewAuthHandler(svc, sm, camera, nil),
		sessions: sm,
		accounts: accounts,
	}
}

// pngBytes encodes a w x h test image.
func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: uint8(y * 10), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding test image: %v", err)
	}
	return buf.Bytes()
}

// multipartBody builds a form with the given fields and an optional image file.
func multipartBody(t *testing.T, fields map[string]string, img []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("writing field: %v", err)
		}
	}
	if img != nil {
		fw, err := mw.CreateFormFile("image", "face.png")
		if err != nil {
			t.Fatalf("creating form file: %v", err)
		}
		fw.Write(img)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("closing multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}

// sessionCookie returns the session cookie set on a response, if any.
func sessionCookie(recorder *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range recorder.Result().Cookies() {
		if c.Name == "faceauth_session" && c.Value != "" {
			return c
		}
	}
	return nil
}
