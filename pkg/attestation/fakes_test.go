package attestation

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobeyondidentity/docgate/pkg/audit"
	"github.com/gobeyondidentity/docgate/pkg/authority"
	"github.com/gobeyondidentity/docgate/pkg/location"
	"github.com/gobeyondidentity/docgate/pkg/session"
	"github.com/gobeyondidentity/docgate/pkg/store"
)

// fakePlatform is a mutable posture.Platform.
type fakePlatform struct {
	mu         sync.Mutex
	permission bool
	service    bool
	developer  bool
	cert       []byte
	certErr    error

	// certGate, when set, holds SigningCertificate until closed.
	certGate chan struct{}
}

func passingPlatform() *fakePlatform {
	return &fakePlatform{permission: true, service: true, cert: []byte("signing-cert")}
}

func (f *fakePlatform) LocationPermissionGranted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.permission
}

func (f *fakePlatform) LocationServiceEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.service
}

func (f *fakePlatform) DeveloperOptionsEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.developer
}

func (f *fakePlatform) SigningCertificate() ([]byte, error) {
	f.mu.Lock()
	gate := f.certGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cert, f.certErr
}

func (f *fakePlatform) set(fn func(*fakePlatform)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// fakeVerifier answers from configurable functions and counts calls.
type fakeVerifier struct {
	signature func(authority.SignatureRequest) (*authority.SignatureResult, error)
	location  func(authority.LocationRequest) (*authority.LocationResult, error)
	report    func(authority.FailureReport) error

	signatureCalls atomic.Int32
	locationCalls  atomic.Int32
	reportCalls    atomic.Int32

	mu         sync.Mutex
	lastReport authority.FailureReport
	lastLocReq authority.LocationRequest
	lastSigReq authority.SignatureRequest
}

func strPtr(s string) *string { return &s }

func acceptingVerifier(deviceID string) *fakeVerifier {
	return &fakeVerifier{
		signature: func(authority.SignatureRequest) (*authority.SignatureResult, error) {
			return &authority.SignatureResult{}, nil
		},
		location: func(authority.LocationRequest) (*authority.LocationResult, error) {
			return &authority.LocationResult{DeviceID: strPtr(deviceID)}, nil
		},
	}
}

func (f *fakeVerifier) CheckSignature(_ context.Context, req authority.SignatureRequest) (*authority.SignatureResult, error) {
	f.signatureCalls.Add(1)
	f.mu.Lock()
	f.lastSigReq = req
	f.mu.Unlock()
	return f.signature(req)
}

func (f *fakeVerifier) CheckLocation(_ context.Context, req authority.LocationRequest) (*authority.LocationResult, error) {
	f.locationCalls.Add(1)
	f.mu.Lock()
	f.lastLocReq = req
	f.mu.Unlock()
	return f.location(req)
}

func (f *fakeVerifier) ReportFailure(_ context.Context, r authority.FailureReport) error {
	f.reportCalls.Add(1)
	f.mu.Lock()
	f.lastReport = r
	f.mu.Unlock()
	if f.report == nil {
		return nil
	}
	return f.report(r)
}

func (f *fakeVerifier) factory() VerifierFactory {
	return func(string) (Verifier, error) { return f, nil }
}

// acquirerFunc adapts a function to Acquirer.
type acquirerFunc func(ctx context.Context, timeout time.Duration) (*location.Position, error)

func (f acquirerFunc) Acquire(ctx context.Context, timeout time.Duration) (*location.Position, error) {
	return f(ctx, timeout)
}

func fixedPosition(lat, lon, alt float64) Acquirer {
	return location.NewAcquirer(&location.StaticProvider{
		Position: &location.Position{Latitude: lat, Longitude: lon, Altitude: alt},
	})
}

// manualProvider holds the position callback until the test fires it.
type manualProvider struct {
	mu       sync.Mutex
	cb       location.Callback
	started  chan struct{}
	canceled atomic.Int32
}

func newManualProvider() *manualProvider {
	return &manualProvider{started: make(chan struct{}, 4)}
}

func (m *manualProvider) RequestCurrent(cb location.Callback) func() {
	m.mu.Lock()
	m.cb = cb
	m.mu.Unlock()
	m.started <- struct{}{}
	return func() { m.canceled.Add(1) }
}

func (m *manualProvider) fire(pos *location.Position, err error) {
	m.mu.Lock()
	cb := m.cb
	m.mu.Unlock()
	cb(pos, err)
}

// recordingHandoff counts hand-off requests.
type recordingHandoff struct {
	permission atomic.Int32
	settings   atomic.Int32
	mu         sync.Mutex
	message    string
}

func (h *recordingHandoff) RequestPermission() { h.permission.Add(1) }

func (h *recordingHandoff) OpenLocationSettings(msg string) {
	h.settings.Add(1)
	h.mu.Lock()
	h.message = msg
	h.mu.Unlock()
}

// memRecorder keeps the latest record per run id.
type memRecorder struct {
	mu   sync.Mutex
	runs map[string]store.Run
	err  error
}

func newMemRecorder() *memRecorder {
	return &memRecorder{runs: make(map[string]store.Run)}
}

func (m *memRecorder) SaveRun(r *store.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[r.ID] = *r
	return m.err
}

func (m *memRecorder) get(id string) (store.Run, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	return r, ok
}

// auditLog captures audit events.
type auditLog struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *auditLog) Emit(ev audit.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	return nil
}

func (a *auditLog) count(et audit.EventType) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, ev := range a.events {
		if ev.Type == et {
			n++
		}
	}
	return n
}

func loggedIn() *session.MemoryStore {
	return session.NewMemoryStore(&session.Session{Hostname: "127.0.0.1:8000", Username: "alice"})
}

var errBoom = errors.New("boom")

// sequentialIDs returns run ids run-1, run-2, ...
func sequentialIDs() func() string {
	var n atomic.Int32
	return func() string {
		return "run-" + strconv.Itoa(int(n.Add(1)))
	}
}
