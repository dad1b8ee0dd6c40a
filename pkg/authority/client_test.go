package authority

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobeyondidentity/docgate/internal/testutil/mockhttp"
)

func strPtr(s string) *string { return &s }

func TestLocationResultAccepted(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		res  *LocationResult
		want bool
	}{
		{"no error no device id", &LocationResult{}, false},
		{"no error with device id", &LocationResult{DeviceID: strPtr("X")}, true},
		{"error takes precedence", &LocationResult{Error: strPtr("bad"), DeviceID: strPtr("X")}, false},
		{"error without device id", &LocationResult{Error: strPtr("bad")}, false},
		{"empty device id", &LocationResult{DeviceID: strPtr("")}, false},
		{"nil result", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.res.Accepted())
		})
	}
}

func TestCheckLocationDecodesWireKeys(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name         string
		body         string
		wantAccepted bool
		wantDevice   string
		wantError    string
	}{
		{"null error null id", `{"Error":null,"device_id":null}`, false, "", ""},
		{"accepted", `{"Error":null,"device_id":"X"}`, true, "X", ""},
		{"rejected with id", `{"Error":"bad","device_id":"X"}`, false, "X", "bad"},
		{"fields omitted", `{}`, false, "", ""},
		{"unknown keys ignored", `{"device_id":"dev-9","region":"eu"}`, true, "dev-9", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, client := mockhttp.New().Raw(PathLocationCheck, http.StatusOK, tt.body).Build()
			defer server.Close()

			c := NewClient(server.URL, WithHTTPClient(client))
			res, err := c.CheckLocation(context.Background(), LocationRequest{Username: "alice"})
			require.NoError(t, err)
			assert.Equal(t, tt.wantAccepted, res.Accepted())
			assert.Equal(t, tt.wantDevice, res.Device())
			assert.Equal(t, tt.wantError, res.ErrorMessage())
			assert.Equal(t, tt.body, res.Received)
		})
	}
}

func TestCheckLocationRequestShape(t *testing.T) {
	t.Parallel()
	b := mockhttp.New()
	capture := b.Capture()
	server, client := b.
		RequireHeader("Content-Type", "application/json").
		Route(http.MethodPost, PathLocationCheck, mockhttp.Respond(http.StatusOK, `{"Error":null,"device_id":"dev-9"}`)).
		Build()
	defer server.Close()

	c := NewClient(server.URL+"/", WithHTTPClient(client))
	res, err := c.CheckLocation(context.Background(), LocationRequest{
		Username:  "alice",
		Latitude:  "12.34",
		Longitude: "56.78",
		Altitude:  "100.0",
	})
	require.NoError(t, err)
	require.True(t, res.Accepted())

	req := capture.LastFor(PathLocationCheck)
	require.NotNil(t, req)
	var body map[string]any
	require.NoError(t, req.BodyJSON(&body))
	assert.Equal(t, map[string]any{
		"username":  "alice",
		"latitude":  "12.34",
		"longitude": "56.78",
		"altitude":  "100.0",
	}, body, "coordinates must be strings on the wire")
	assert.Equal(t, string(req.Body), res.Sent)
}

func TestCheckSignature(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name         string
		code         int
		body         string
		wantAccepted bool
		wantErr      bool
	}{
		{"accepted null error", http.StatusOK, `{"error":null}`, true, false},
		{"accepted empty object", http.StatusOK, `{}`, true, false},
		{"rejected", http.StatusOK, `{"error":"digest mismatch"}`, false, false},
		{"rejected with 403", http.StatusForbidden, `{"error":"digest mismatch"}`, false, false},
		{"server error without body", http.StatusInternalServerError, `{}`, false, true},
		{"malformed json", http.StatusOK, `<html>`, false, true},
		{"empty body", http.StatusOK, ``, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := mockhttp.New()
			capture := b.Capture()
			server, client := b.Raw(PathSignatureCheck, tt.code, tt.body).Build()
			defer server.Close()

			c := NewClient(server.URL, WithHTTPClient(client))
			res, err := c.CheckSignature(context.Background(), SignatureRequest{Username: "alice", SHA256: "ab12"})
			if tt.wantErr {
				var te *TransportError
				require.ErrorAs(t, err, &te)
				assert.Equal(t, tt.code, te.StatusCode)
				assert.Equal(t, tt.body, te.Received)
				assert.Contains(t, te.Sent, `"sha256":"ab12"`)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAccepted, res.Accepted())

			var sent SignatureRequest
			require.NoError(t, capture.Last().BodyJSON(&sent))
			assert.Equal(t, SignatureRequest{Username: "alice", SHA256: "ab12"}, sent)
		})
	}
}

func TestConnectionFailureIsTransportError(t *testing.T) {
	t.Parallel()
	server, client := mockhttp.New().Build()
	url := server.URL
	server.Close()

	c := NewClient(url, WithHTTPClient(client))
	_, err := c.CheckSignature(context.Background(), SignatureRequest{Username: "alice"})

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 0, te.StatusCode)
	assert.Empty(t, te.Received)
	assert.NotEmpty(t, te.Sent)
	assert.True(t, strings.HasPrefix(te.Error(), "signature check:"))
}

func TestLocationTimeout(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	server, client := mockhttp.New().Hang(PathLocationCheck, release).Build()
	defer server.Close()
	defer close(release)

	c := NewClient(server.URL, WithHTTPClient(client), WithLocationTimeout(50*time.Millisecond))
	start := time.Now()
	_, err := c.CheckLocation(context.Background(), LocationRequest{Username: "alice"})
	elapsed := time.Since(start)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.Timeout(), "expected timeout, got %v", err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Less(t, elapsed, 2*time.Second)
}

func TestDefaultTimeouts(t *testing.T) {
	t.Parallel()
	c := NewClient("http://127.0.0.1:8000")
	assert.Equal(t, 5*time.Second, c.LocationTimeout)
	assert.Equal(t, 10*time.Second, c.Timeout)
	assert.Equal(t, "http://127.0.0.1:8000", c.BaseURL())
}

func TestReportFailure(t *testing.T) {
	t.Parallel()

	t.Run("posts report and ignores body", func(t *testing.T) {
		b := mockhttp.New()
		capture := b.Capture()
		server, client := b.Raw(PathCheckFailed, http.StatusOK, `not json`).Build()
		defer server.Close()

		c := NewClient(server.URL, WithHTTPClient(client))
		err := c.ReportFailure(context.Background(), FailureReport{Username: "alice", Message: "Device Integrity Check Failed."})
		require.NoError(t, err)

		var sent FailureReport
		require.NoError(t, capture.LastFor(PathCheckFailed).BodyJSON(&sent))
		assert.Equal(t, "Device Integrity Check Failed.", sent.Message)
	})

	t.Run("non-2xx is an error", func(t *testing.T) {
		server, client := mockhttp.New().Raw(PathCheckFailed, http.StatusBadGateway, ``).Build()
		defer server.Close()

		c := NewClient(server.URL, WithHTTPClient(client))
		err := c.ReportFailure(context.Background(), FailureReport{Username: "alice"})
		var te *TransportError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, http.StatusBadGateway, te.StatusCode)
	})
}
