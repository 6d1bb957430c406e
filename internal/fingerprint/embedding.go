package fingerprint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/kozaktomas/faceauth/internal/facematch"
)

const (
	defaultModelURL     = "http://localhost:8000"
	defaultModelTimeout = 10 * time.Second

	// maxDetectEdge caps the longest edge of frames sent to the detector.
	maxDetectEdge = 1024
)

// ModelClient talks to the face model server. It implements both Detector
// (SSD face detector) and Embedder (OpenFace network).
type ModelClient struct {
	baseURL string
	client  *http.Client
}

// NewModelClient creates a new model server client.
func NewModelClient(baseURL string, timeout time.Duration) *ModelClient {
	if baseURL == "" {
		baseURL = defaultModelURL
	}
	if timeout <= 0 {
		timeout = defaultModelTimeout
	}
	return &ModelClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// faceDetection represents a single detected face
type faceDetection struct {
	FaceIndex int       `json:"face_index"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// detectResponse represents the response from the face detection endpoint
type detectResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Relative   bool            `json:"relative"` // bbox given as fractions of width/height
}

// embeddingResponse represents the response from the face embedding endpoint
type embeddingResponse struct {
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
}

// postMultipartImage constructs a multipart form with the image data and posts it to the given endpoint.
func (c *ModelClient) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// Detect runs the face detector on img.
// Large frames are downscaled for upload; boxes are mapped back to img.
func (c *ModelClient) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	sent := FitImage(img, maxDetectEdge)
	data, err := EncodeJPEG(sent)
	if err != nil {
		return nil, err
	}

	body, err := c.postMultipartImage(ctx, "/detect/face", data)
	if err != nil {
		return nil, err
	}

	var resp detectResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	bounds := img.Bounds()
	scaleX := float64(bounds.Dx()) / float64(sent.Bounds().Dx())
	scaleY := float64(bounds.Dy()) / float64(sent.Bounds().Dy())
	detections := make([]Detection, 0, len(resp.Faces))
	for _, face := range resp.Faces {
		if len(face.BBox) != 4 {
			return nil, fmt.Errorf("face %d: bbox has %d coordinates", face.FaceIndex, len(face.BBox))
		}
		bbox := facematch.BBox{face.BBox[0], face.BBox[1], face.BBox[2], face.BBox[3]}
		if resp.Relative {
			bbox = facematch.FromRelative(bbox, bounds.Dx(), bounds.Dy())
		} else {
			bbox = facematch.BBox{bbox[0] * scaleX, bbox[1] * scaleY, bbox[2] * scaleX, bbox[3] * scaleY}
		}
		detections = append(detections, Detection{BBox: bbox, Score: face.DetScore})
	}

	return detections, nil
}

// Embed computes the embedding of an aligned face crop.
func (c *ModelClient) Embed(ctx context.Context, face image.Image) ([]float32, error) {
	data, err := EncodeJPEG(face)
	if err != nil {
		return nil, err
	}

	body, err := c.postMultipartImage(ctx, "/embed/face", data)
	if err != nil {
		return nil, err
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(embResp.Embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}

	return embResp.Embedding, nil
}

// Health checks that the model server is up.
func (c *ModelClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("model server unhealthy (status %d): %s", resp.StatusCode, string(body))
	}
	return nil
}
