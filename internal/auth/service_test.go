package auth

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kozaktomas/faceauth/internal/capture"
	"github.com/kozaktomas/faceauth/internal/database"
	"github.com/kozaktomas/faceauth/internal/database/mock"
	"github.com/kozaktomas/faceauth/internal/facematch"
	"github.com/kozaktomas/faceauth/internal/fingerprint"
)

var (
	aliceEmb = facematch.NewEmbedding([]float32{1, 0, 0, 0})
	bobEmb   = facematch.NewEmbedding([]float32{0, 0, 0, 1})
)

// stubExtractor returns a fixed embedding for every image with a face.
// Images narrower than 10 pixels contain no face.
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
	return fingerprint.NewExtractor(detector, embedder, fingerprint.Options{MinConfidence: 0.5, InputSize: 8}, zap.NewNop())
}

func faceImage() image.Image  { return image.NewRGBA(image.Rect(0, 0, 20, 20)) }
func emptyImage() image.Image { return image.NewRGBA(image.Rect(0, 0, 4, 4)) }

func newService(t *testing.T, ex *fingerprint.Extractor) (*Service, *mock.MockAccountStore) {
	t.Helper()
	templates := mock.NewMockTemplateStore()
	accounts := mock.NewMockAccountStore(templates)
	session := capture.NewSession(ex, facematch.NewMatcher(0.6), Gallery(templates), capture.Options{Timeout: time.Second}, nil)
	return NewService(accounts, templates, ex, session, nil), accounts
}

func TestLoginPassword(t *testing.T) {
	svc, accounts := newService(t, stubExtractor(aliceEmb))
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	accounts.AddAccount(database.Account{Username: "alice", PasswordHash: hash})

	user, err := svc.LoginPassword(context.Background(), " Alice ", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "alice", user)

	_, err = svc.LoginPassword(context.Background(), "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.LoginPassword(context.Background(), "nobody", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.Len(t, accounts.Attempts, 3)
	assert.True(t, accounts.Attempts[0].Success)
	assert.Equal(t, MethodPassword, accounts.Attempts[0].Method)
	assert.False(t, accounts.Attempts[1].Success)
	assert.NotEmpty(t, accounts.Attempts[2].AttemptID)
}

func TestLoginPassword_StoreError(t *testing.T) {
	svc, accounts := newService(t, stubExtractor(aliceEmb))
	accounts.GetError = errors.New("connection reset")

	_, err := svc.LoginPassword(context.Background(), "alice", "x")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterThenLoginFace(t *testing.T) {
	svc, accounts := newService(t, stubExtractor(aliceEmb))
	ctx := context.Background()

	user, err := svc.Register(ctx, "Alice", "pw", faceImage())
	require.NoError(t, err)
	assert.Equal(t, "alice", user)

	acc, err := accounts.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, VerifyPassword(acc.PasswordHash, "pw"))

	out, err := svc.LoginFace(ctx, capture.Still(faceImage()))
	require.NoError(t, err)
	assert.True(t, out.Accepted)
	assert.Equal(t, "alice", out.Identity)
	assert.Equal(t, capture.ReasonMatched, out.Reason)

	last := accounts.Attempts[len(accounts.Attempts)-1]
	assert.Equal(t, MethodFace, last.Method)
	assert.True(t, last.Success)
	assert.Equal(t, out.AttemptID, last.AttemptID)
}

func TestLoginFace_Stranger(t *testing.T) {
	svc, accounts := newService(t, stubExtractor(aliceEmb))
	accounts.Templates.AddTemplate("bob", bobEmb)

	out, err := svc.LoginFace(context.Background(), capture.Still(faceImage()))
	require.NoError(t, err)
	assert.False(t, out.Accepted)
	assert.Equal(t, capture.ReasonNoMatchWithinTimeout, out.Reason)
	assert.Equal(t, string(capture.ReasonNoMatchWithinTimeout), accounts.Attempts[0].Reason)
}

func TestLoginFace_NoFace(t *testing.T) {
	svc, _ := newService(t, stubExtractor(aliceEmb))

	out, err := svc.LoginFace(context.Background(), capture.Still(emptyImage()))
	require.NoError(t, err)
	assert.Equal(t, capture.ReasonNoFaceDetected, out.Reason)
}

func TestLoginFace_Aborted(t *testing.T) {
	svc, accounts := newService(t, stubExtractor(aliceEmb))
	failing := func(context.Context) (capture.FrameSource, error) {
		return nil, errors.New("no such device")
	}

	out, err := svc.LoginFace(context.Background(), failing)
	assert.ErrorIs(t, err, capture.ErrSessionAborted)
	assert.Equal(t, capture.StateAborted, out.State)
	assert.Equal(t, string(capture.StateAborted), accounts.Attempts[0].Reason)
}

func TestRegister_Duplicate(t *testing.T) {
	svc, accounts := newService(t, stubExtractor(aliceEmb))
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "pw", faceImage())
	require.NoError(t, err)

	_, err = svc.Register(ctx, "ALICE", "other", faceImage())
	assert.ErrorIs(t, err, database.ErrDuplicateIdentity)

	// A template enrolled without an account also blocks the name.
	accounts.Templates.AddTemplate("carol", bobEmb)
	_, err = svc.Register(ctx, "carol", "pw", faceImage())
	assert.ErrorIs(t, err, database.ErrDuplicateIdentity)
}

func TestRegister_Rejections(t *testing.T) {
	ctx := context.Background()

	svc, accounts := newService(t, stubExtractor(aliceEmb))
	_, err := svc.Register(ctx, "dave", "pw", emptyImage())
	assert.ErrorIs(t, err, ErrNoFace)
	_, err = accounts.GetAccount(ctx, "dave")
	assert.ErrorIs(t, err, database.ErrNotFound)

	_, err = svc.Register(ctx, "   ", "pw", faceImage())
	assert.ErrorIs(t, err, ErrInvalidUsername)

	down, _ := newService(t, fingerprint.Unavailable(nil))
	assert.False(t, down.FaceAvailable())
	_, err = down.Register(ctx, "erin", "pw", faceImage())
	assert.ErrorIs(t, err, ErrFaceUnavailable)
}
