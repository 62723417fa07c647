package imagegen

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowforge/internal/resilience"
	"github.com/rendis/flowforge/internal/secrets"
	"github.com/rendis/flowforge/pkg/schema"
)

func testClient(t *testing.T, h http.HandlerFunc, opts ...Option) *ReplicateClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewReplicateClient(Config{
		BaseURL:  srv.URL,
		APIToken: "r8_test",
		Retry:    resilience.RetryPolicy{MaxAttempts: 2, Delay: time.Millisecond},
		Breaker:  resilience.BreakerConfig{Threshold: 2, Cooldown: time.Hour, Probes: 1},
	}, opts...)
}

func TestGenerate_SendsFluxRequest(t *testing.T) {
	var got map[string]map[string]any
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/models/black-forest-labs/flux-schnell/predictions", r.URL.Path)
		assert.Equal(t, "Bearer r8_test", r.Header.Get("Authorization"))
		assert.Equal(t, "wait", r.Header.Get("Prefer"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"output":["http://x/img.webp"]}`))
	})

	resp, err := c.Generate(context.Background(), Request{Prompt: "A beautiful landscape"})
	require.NoError(t, err)
	assert.Equal(t, []string{"http://x/img.webp"}, resp.Output)

	in := got["input"]
	assert.Equal(t, "A beautiful landscape", in["prompt"])
	assert.Equal(t, "1:1", in["aspect_ratio"])
	assert.Equal(t, 1.0, in["num_outputs"])
	assert.Equal(t, "webp", in["output_format"])
	assert.Equal(t, 80.0, in["output_quality"])
	assert.Equal(t, 4.0, in["num_inference_steps"])
	assert.Equal(t, true, in["go_fast"])
}

func TestGenerate_APIErrorIsPermanent(t *testing.T) {
	var calls int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"error":"NSFW content detected"}`))
	})

	_, err := c.Generate(context.Background(), Request{Prompt: "x"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "NSFW content detected", err.Error())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGenerate_ClientErrorStatus(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
	})
	_, err := c.Generate(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, "API request failed with status 401: unauthenticated", err.Error())
}

func TestGenerate_RetriesServerErrors(t *testing.T) {
	var calls int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"output":"http://x/single.webp"}`))
	})

	resp, err := c.Generate(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"http://x/single.webp"}, resp.Output)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGenerate_BreakerOpensOnRepeatedOutage(t *testing.T) {
	var calls int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	for range 2 {
		_, err := c.Generate(context.Background(), Request{Prompt: "x"})
		assert.True(t, schema.IsCode(err, schema.ErrCodeRetryExhausted))
	}
	_, err := c.Generate(context.Background(), Request{Prompt: "x"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeCircuitOpen))
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestGenerate_UnexpectedFormat(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"starting"}`))
	})
	_, err := c.Generate(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, "Unexpected response format from API", err.Error())
}

type fixedResolver map[string]string

func (f fixedResolver) Resolve(_ context.Context, key string) ([]byte, error) {
	v, ok := f[key]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	return []byte(v), nil
}

func TestGenerate_TokenFromVault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer from-vault", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"output":["u"]}`))
	}))
	defer srv.Close()

	c := NewReplicateClient(Config{BaseURL: srv.URL},
		WithTokenResolver(fixedResolver{secrets.ImageAPITokenKey: "from-vault"}))
	_, err := c.Generate(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)

	bare := NewReplicateClient(Config{BaseURL: srv.URL})
	_, err = bare.Generate(context.Background(), Request{Prompt: "x"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestGenerate_EmptyPrompt(t *testing.T) {
	c := NewReplicateClient(Config{APIToken: "t"})
	_, err := c.Generate(context.Background(), Request{Prompt: "  "})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestRequest_WithDefaults(t *testing.T) {
	r := Request{Prompt: "p"}.WithDefaults()
	assert.Equal(t, DefaultAspectRatio, r.AspectRatio)
	assert.Equal(t, DefaultNumOutputs, r.NumOutputs)

	r = Request{Prompt: "p", AspectRatio: "16:9", NumOutputs: 2}.WithDefaults()
	assert.Equal(t, "16:9", r.AspectRatio)
	assert.Equal(t, 2, r.NumOutputs)
}
