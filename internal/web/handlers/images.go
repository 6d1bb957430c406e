package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"mime"
	"net/http"

	"github.com/kozaktomas/faceauth/internal/fingerprint"
)

var errNoImage = errors.New("no image provided")

// imageRequest is the JSON form of a posted webcam still.
type imageRequest struct {
	ImageData string `json:"image_data"`
}

// readFormImage extracts the "image" file or the "image_data" data URL from
// a parsed multipart form.
func readFormImage(r *http.Request) (image.Image, error) {
	file, _, err := r.FormFile("image")
	if err == nil {
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, fmt.Errorf("reading image: %w", err)
		}
		return fingerprint.DecodeImage(data)
	}
	if !errors.Is(err, http.ErrMissingFile) {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	return decodeDataURLImage(r.FormValue("image_data"))
}

func decodeDataURLImage(s string) (image.Image, error) {
	if s == "" {
		return nil, errNoImage
	}
	data, err := fingerprint.DecodeDataURL(s)
	if err != nil {
		return nil, err
	}
	return fingerprint.DecodeImage(data)
}

// readPostedImage returns the image carried by a face login request.
// errNoImage means the client asked for live capture.
func readPostedImage(r *http.Request) (image.Image, error) {
	if r.ContentLength == 0 {
		return nil, errNoImage
	}
	r.Body = http.MaxBytesReader(nil, r.Body, maxUploadSize)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			return nil, errors.New(errInvalidRequestBody)
		}
		return readFormImage(r)
	default:
		var req imageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errNoImage
			}
			return nil, errors.New(errInvalidRequestBody)
		}
		return decodeDataURLImage(req.ImageData)
	}
}
