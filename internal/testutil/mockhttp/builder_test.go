package mockhttp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestJSON(t *testing.T) {
	t.Parallel()
	t.Log("Testing JSON response handler")

	type response struct {
		DeviceID string `json:"device_id"`
	}

	server, client := New().
		JSON("/checklocation", response{DeviceID: "dev-1"}).
		Build()
	defer server.Close()

	resp, err := client.Post(server.URL+"/checklocation", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	var got response
	json.NewDecoder(resp.Body).Decode(&got)
	if got.DeviceID != "dev-1" {
		t.Errorf("expected device_id=dev-1, got %s", got.DeviceID)
	}
}

func TestRawAndDefault(t *testing.T) {
	t.Parallel()
	server, client := New().
		Raw("/shacheck", http.StatusOK, `{"error":null}`).
		Build()
	defer server.Close()

	resp, err := client.Post(server.URL+"/shacheck", "application/json", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != `{"error":null}` {
		t.Errorf("body = %q", body)
	}

	resp, err = client.Get(server.URL + "/unknown")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unmatched path status = %d, want 404", resp.StatusCode)
	}
}

func TestRouteMatchesMethod(t *testing.T) {
	t.Parallel()
	server, client := New().
		Route(http.MethodPost, "/checkfailed", Respond(http.StatusOK, `{}`)).
		Build()
	defer server.Close()

	resp, err := client.Get(server.URL + "/checkfailed")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET status = %d, want 404", resp.StatusCode)
	}
}

func TestCaptureKeepsBodyForHandlers(t *testing.T) {
	t.Parallel()
	b := New()
	capture := b.Capture()
	var seen string
	server, client := b.
		RouteFunc("/checklocation", func(w http.ResponseWriter, r *http.Request) {
			data, _ := io.ReadAll(r.Body)
			seen = string(data)
			w.WriteHeader(http.StatusOK)
		}).
		Build()
	defer server.Close()

	resp, err := client.Post(server.URL+"/checklocation?x=1", "application/json", strings.NewReader(`{"username":"alice"}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if seen != `{"username":"alice"}` {
		t.Errorf("handler saw body %q", seen)
	}
	last := capture.LastFor("/checklocation")
	if last == nil {
		t.Fatal("request not captured")
	}
	var body map[string]string
	if err := last.BodyJSON(&body); err != nil {
		t.Fatalf("BodyJSON: %v", err)
	}
	if body["username"] != "alice" {
		t.Errorf("captured username = %q", body["username"])
	}
	if last.Query["x"][0] != "1" {
		t.Errorf("captured query = %v", last.Query)
	}
	if capture.CountPath("/checklocation") != 1 || capture.Count() != 1 {
		t.Errorf("counts = %d/%d, want 1/1", capture.CountPath("/checklocation"), capture.Count())
	}
}

func TestWaitForPath(t *testing.T) {
	t.Parallel()
	b := New()
	capture := b.Capture()
	server, client := b.Raw("/checkfailed", http.StatusOK, `{}`).Build()
	defer server.Close()

	if capture.WaitForPath("/checkfailed", 1, 20*time.Millisecond) {
		t.Fatal("WaitForPath returned true before any request")
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		resp, err := client.Post(server.URL+"/checkfailed", "application/json", strings.NewReader(`{}`))
		if err == nil {
			resp.Body.Close()
		}
	}()

	if !capture.WaitForPath("/checkfailed", 1, 2*time.Second) {
		t.Fatal("WaitForPath timed out")
	}
	if got := capture.Paths(); len(got) != 1 || got[0] != "/checkfailed" {
		t.Errorf("Paths() = %v", got)
	}
}

func TestHangReleasesOnClientTimeout(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	server, client := New().Hang("/checklocation", release).Build()
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, server.URL+"/checklocation", nil)

	start := time.Now()
	_, err := client.Do(req)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("request was not released by client timeout")
	}
}

func TestTLS(t *testing.T) {
	t.Parallel()
	server, client := New().TLS().JSON("/login", map[string]string{"login": "pass"}).Build()
	defer server.Close()

	if !strings.HasPrefix(server.URL, "https://") {
		t.Fatalf("expected https URL, got %s", server.URL)
	}
	resp, err := client.Post(server.URL+"/login", "application/json", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
