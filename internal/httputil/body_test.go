package httputil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmerrors "github.com/blueberrycongee/recall/pkg/errors"
)

func TestReadLimitedBody_AllowsWithinLimit(t *testing.T) {
	body, err := ReadLimitedBody(strings.NewReader("hello"), 10)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if string(body) != "hello" {
		t.Fatalf("unexpected body: %s", string(body))
	}
}

func TestReadLimitedBody_RejectsOversize(t *testing.T) {
	body, err := ReadLimitedBody(strings.NewReader("helloworld"), 5)
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}
	if string(body) != "hello" {
		t.Fatalf("unexpected body: %s", string(body))
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Text  string `json:"text"`
		Limit int    `json:"limit"`
	}

	t.Run("valid", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"text":"hi","limit":3}`))
		var p payload
		require.NoError(t, DecodeJSON(r, 0, &p))
		assert.Equal(t, payload{Text: "hi", Limit: 3}, p)
	})

	t.Run("empty body keeps defaults", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
		p := payload{Limit: 20}
		require.NoError(t, DecodeJSON(r, 0, &p))
		assert.Equal(t, 20, p.Limit)
	})

	for name, body := range map[string]string{
		"malformed": `{"text":`,
		"too large": `{"text":"` + strings.Repeat("x", 64) + `"}`,
	} {
		t.Run(name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
			var p payload
			err := DecodeJSON(r, 32, &p)
			e, ok := llmerrors.As(err)
			require.True(t, ok)
			assert.Equal(t, llmerrors.KindValidation, e.Kind)
		})
	}
}

func TestWriteError(t *testing.T) {
	t.Run("typed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteError(rec, llmerrors.NewNotFoundError("record a1 not found").Wrap(errors.New("secret cause")))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.JSONEq(t, `{"error":"not_found","detail":"record a1 not found","status_code":404}`, rec.Body.String())
	})

	t.Run("untyped hides message", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteError(rec, errors.New("dial tcp 10.0.0.1: refused"))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "10.0.0.1")
		assert.Contains(t, rec.Body.String(), `"error":"internal_error"`)
	})

	t.Run("rate limited sets retry-after", func(t *testing.T) {
		rec := httptest.NewRecorder()
		WriteError(rec, llmerrors.NewRateLimitError("rate limit exceeded"))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	})
}
