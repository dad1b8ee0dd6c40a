package attestation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gobeyondidentity/docgate/internal/testutil/mockhttp"
	"github.com/gobeyondidentity/docgate/pkg/audit"
	"github.com/gobeyondidentity/docgate/pkg/authority"
	"github.com/gobeyondidentity/docgate/pkg/location"
	"github.com/gobeyondidentity/docgate/pkg/session"
	"github.com/gobeyondidentity/docgate/pkg/store"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// await reads the attempt outcome, failing the test if none arrives.
func await(t *testing.T, done <-chan State) State {
	t.Helper()
	select {
	case st, ok := <-done:
		require.True(t, ok, "attempt ended without a resting state")
		return st
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pipeline")
		return State{}
	}
}

// awaitClosed asserts done closes without delivering a state.
func awaitClosed(t *testing.T, done <-chan State) {
	t.Helper()
	select {
	case st, ok := <-done:
		require.False(t, ok, "superseded attempt delivered %+v", st)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for attempt to close")
	}
}

func TestEndToEndProvisionsDevice(t *testing.T) {
	t.Log("All local checks pass, fix (12.34, 56.78, 100.0), authority issues dev-9")

	b := mockhttp.New()
	capture := b.Capture()
	server, client := b.
		JSON(authority.PathSignatureCheck, map[string]any{"error": nil}).
		Raw(authority.PathLocationCheck, http.StatusOK, `{"Error":null,"device_id":"dev-9"}`).
		Build()
	defer server.Close()

	sess := session.NewMemoryStore(&session.Session{Hostname: server.URL, Username: "alice"})
	rec := newMemRecorder()
	events := &auditLog{}
	var completions atomic.Int32

	o := New(Deps{
		Platform:  passingPlatform(),
		Acquirer:  fixedPosition(12.34, 56.78, 100.0),
		Verifiers: DefaultVerifierFactory(authority.WithHTTPClient(client)),
		Session:   sess,
		Recorder:  rec,
		Audit:     events,
		Logger:    quietLogger,
	}, WithOnComplete(func(State) { completions.Add(1) }), WithRunIDs(sequentialIDs()))

	st := await(t, o.Start(context.Background()))

	assert.Equal(t, PhaseCompleted, st.Phase)
	assert.Equal(t, 5, st.Completed)
	assert.False(t, st.Failed)
	assert.Equal(t, "dev-9", st.DeviceID)
	assert.Equal(t, int32(1), completions.Load(), "completion callback must fire exactly once")

	saved, err := sess.Load()
	require.NoError(t, err)
	assert.Equal(t, "dev-9", saved.DeviceID)

	t.Log("Checking the wire format of the location request")
	var body map[string]string
	require.NoError(t, capture.LastFor(authority.PathLocationCheck).BodyJSON(&body))
	assert.Equal(t, map[string]string{
		"username":  "alice",
		"latitude":  "12.34",
		"longitude": "56.78",
		"altitude":  "100.0",
	}, body)

	var sig map[string]string
	require.NoError(t, capture.LastFor(authority.PathSignatureCheck).BodyJSON(&sig))
	assert.Len(t, sig["sha256"], 64)
	assert.Equal(t, 0, capture.CountPath(authority.PathCheckFailed))

	run, ok := rec.get("run-1")
	require.True(t, ok)
	assert.Equal(t, store.RunStatusCompleted, run.Status)
	assert.Equal(t, "alice", run.Username)
	assert.Equal(t, "dev-9", run.DeviceID)
	assert.NotEmpty(t, run.PostureHash)
	assert.Equal(t, 1, events.count(audit.EventDeviceProvisioned))
	assert.Equal(t, 1, events.count(audit.EventPipelineCompleted))
}

func TestTamperHaltsAndReportsOnce(t *testing.T) {
	t.Log("Developer options enabled: halt at tamper with two stages passed, report once")

	b := mockhttp.New()
	capture := b.Capture()
	server, client := b.Raw(authority.PathCheckFailed, http.StatusOK, `{}`).Build()
	defer server.Close()

	platform := passingPlatform()
	platform.developer = true
	events := &auditLog{}

	o := New(Deps{
		Platform: platform,
		Acquirer: acquirerFunc(func(context.Context, time.Duration) (*location.Position, error) {
			t.Error("acquire after tamper")
			return nil, nil
		}),
		Verifiers: DefaultVerifierFactory(authority.WithHTTPClient(client)),
		Session:   session.NewMemoryStore(&session.Session{Hostname: server.URL, Username: "alice"}),
		Audit:     events,
		Logger:    quietLogger,
	})

	st := await(t, o.Start(context.Background()))
	o.WaitReports()

	assert.Equal(t, PhaseFailed, st.Phase)
	assert.True(t, st.Failed)
	assert.Equal(t, 2, st.Completed)
	require.NotNil(t, st.Failure)
	assert.Equal(t, TamperDetected, st.Failure.Kind)
	assert.Equal(t, StageTamper, st.Failure.Stage)
	assert.Contains(t, st.Message, "reported to the admin")

	assert.Equal(t, 1, capture.CountPath(authority.PathCheckFailed), "tamper report must be attempted exactly once")
	assert.Equal(t, 0, capture.CountPath(authority.PathSignatureCheck))
	assert.Equal(t, 0, capture.CountPath(authority.PathLocationCheck))

	var report authority.FailureReport
	require.NoError(t, capture.LastFor(authority.PathCheckFailed).BodyJSON(&report))
	assert.Equal(t, authority.FailureReport{Username: "alice", Message: MsgTamperReport}, report)
	assert.Equal(t, 1, events.count(audit.EventTamperDetected))
}

func TestTamperReportFailureDoesNotAlterOutcome(t *testing.T) {
	t.Log("A failing tamper report is swallowed and the TamperDetected message stands")

	platform := passingPlatform()
	platform.developer = true
	v := acceptingVerifier("unused")
	v.report = func(authority.FailureReport) error {
		return &authority.TransportError{Op: "failure report", Err: errors.New("connection refused")}
	}
	events := &auditLog{}

	o := New(Deps{
		Platform:  platform,
		Acquirer:  fixedPosition(1, 2, 3),
		Verifiers: v.factory(),
		Session:   loggedIn(),
		Audit:     events,
		Logger:    quietLogger,
	})

	st := await(t, o.Start(context.Background()))
	o.WaitReports()

	after := o.State()
	assert.Equal(t, MsgTamperDetected, st.Message)
	assert.Equal(t, MsgTamperDetected, after.Message)
	assert.Equal(t, TamperDetected, after.Failure.Kind)
	assert.Equal(t, int32(1), v.reportCalls.Load())
	assert.Equal(t, 1, events.count(audit.EventReportFailed))
}

func TestPermissionGrantRestartsMonotonically(t *testing.T) {
	t.Log("Missing permission suspends; a grant restarts at stage 1 and counts 0 to 5")

	platform := passingPlatform()
	platform.permission = false
	handoff := &recordingHandoff{}
	var completions atomic.Int32

	o := New(Deps{
		Platform:  platform,
		Acquirer:  fixedPosition(12.34, 56.78, 100.0),
		Verifiers: acceptingVerifier("dev-9").factory(),
		Session:   loggedIn(),
		Handoff:   handoff,
		Logger:    quietLogger,
	}, WithOnComplete(func(State) { completions.Add(1) }))

	snaps, unsubscribe := o.Subscribe()
	defer unsubscribe()

	st := await(t, o.Start(context.Background()))
	assert.Equal(t, PhaseAwaiting, st.Phase)
	assert.Equal(t, ActionPermissionPrompt, st.Awaiting)
	assert.Equal(t, StagePermission, st.ResumeAt)
	assert.Equal(t, 0, st.Completed)
	assert.False(t, st.Failed)
	assert.Equal(t, int32(1), handoff.permission.Load())

	t.Log("User grants the permission")
	platform.set(func(p *fakePlatform) { p.permission = true })
	done, err := o.PermissionResult(context.Background(), true)
	require.NoError(t, err)
	final := await(t, done)
	assert.Equal(t, PhaseCompleted, final.Phase)
	assert.Equal(t, 2, final.Attempt)
	assert.Equal(t, st.RunID, final.RunID, "resume continues the same run")
	assert.Equal(t, int32(1), completions.Load())

	var counts []int
	for s := range drain(snaps) {
		if s.Attempt == 2 {
			counts = append(counts, s.Completed)
		}
	}
	t.Logf("Completed counts in second attempt: %v", counts)
	require.NotEmpty(t, counts)
	assert.Equal(t, 0, counts[0])
	assert.Equal(t, 5, counts[len(counts)-1])
	for i := 1; i < len(counts); i++ {
		assert.GreaterOrEqual(t, counts[i], counts[i-1], "completed count decreased")
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, counts)
}

// drain returns the snapshots currently buffered in ch.
func drain(ch <-chan State) chan State {
	out := make(chan State, cap(ch))
	for {
		select {
		case s := <-ch:
			out <- s
		default:
			close(out)
			return out
		}
	}
}

func TestPermissionDeniedIsTerminal(t *testing.T) {
	platform := passingPlatform()
	platform.permission = false
	v := acceptingVerifier("dev-9")
	events := &auditLog{}

	o := New(Deps{
		Platform:  platform,
		Acquirer:  fixedPosition(1, 2, 3),
		Verifiers: v.factory(),
		Session:   loggedIn(),
		Audit:     events,
		Logger:    quietLogger,
	})

	await(t, o.Start(context.Background()))
	done, err := o.PermissionResult(context.Background(), false)
	require.NoError(t, err)
	st := await(t, done)

	assert.Equal(t, PhaseFailed, st.Phase)
	assert.True(t, st.Failed)
	assert.Equal(t, 0, st.Completed)
	assert.Equal(t, MsgPermissionRequired, st.Message)
	assert.Equal(t, PermissionDenied, st.Failure.Kind)
	assert.True(t, st.Failure.Kind.Terminal())
	assert.Equal(t, int32(0), v.signatureCalls.Load())
	assert.Equal(t, 1, events.count(audit.EventPipelineFailed))

	t.Log("A failed run is absorbing: further hand-off results are rejected")
	_, err = o.PermissionResult(context.Background(), true)
	assert.ErrorIs(t, err, ErrNotAwaiting)
	_, err = o.SettingsReturned(context.Background())
	assert.ErrorIs(t, err, ErrNotAwaiting)
}

func TestLocationServiceDisabledIsRecoverable(t *testing.T) {
	platform := passingPlatform()
	platform.service = false
	handoff := &recordingHandoff{}
	rec := newMemRecorder()

	o := New(Deps{
		Platform:  platform,
		Acquirer:  fixedPosition(1, 2, 3),
		Verifiers: acceptingVerifier("dev-9").factory(),
		Session:   loggedIn(),
		Handoff:   handoff,
		Recorder:  rec,
		Logger:    quietLogger,
	}, WithRunIDs(sequentialIDs()))

	st := await(t, o.Start(context.Background()))
	assert.Equal(t, PhaseAwaiting, st.Phase)
	assert.Equal(t, ActionLocationSettings, st.Awaiting)
	assert.Equal(t, StagePermission, st.ResumeAt)
	assert.False(t, st.Failed, "a disabled service is not a failure")
	assert.Equal(t, 1, st.Completed)
	assert.Equal(t, MsgServiceDisabled, st.Message)
	require.NotNil(t, st.Failure)
	assert.Equal(t, ServiceUnavailable, st.Failure.Kind)
	assert.False(t, st.Failure.Kind.Terminal())
	assert.Equal(t, StageBlocked, st.StatusOf(StageLocationService))
	assert.Equal(t, int32(1), handoff.settings.Load())
	assert.Equal(t, MsgServiceDisabled, handoff.message)

	run, _ := rec.get("run-1")
	assert.Equal(t, store.RunStatusAwaiting, run.Status)

	_, err := o.PermissionResult(context.Background(), true)
	assert.ErrorIs(t, err, ErrNotAwaiting, "waiting on settings, not the permission prompt")

	t.Log("User enables location services and returns")
	platform.set(func(p *fakePlatform) { p.service = true })
	done, err := o.SettingsReturned(context.Background())
	require.NoError(t, err)
	final := await(t, done)
	assert.Equal(t, PhaseCompleted, final.Phase)
	assert.Equal(t, 2, final.Attempt)
	assert.Empty(t, final.Message)

	run, _ = rec.get("run-1")
	assert.Equal(t, store.RunStatusCompleted, run.Status)
	assert.Equal(t, 2, run.Attempts)
}

func TestStopDuringAcquisitionPreventsMutation(t *testing.T) {
	t.Log("Tearing down while awaiting a fix: the late fix must not touch state")

	provider := newManualProvider()
	v := acceptingVerifier("dev-9")
	sess := loggedIn()
	rec := newMemRecorder()

	o := New(Deps{
		Platform:  passingPlatform(),
		Acquirer:  location.NewAcquirer(provider),
		Verifiers: v.factory(),
		Session:   sess,
		Recorder:  rec,
		Logger:    quietLogger,
	}, WithLocationTimeout(time.Minute), WithRunIDs(sequentialIDs()))

	done := o.Start(context.Background())
	<-provider.started
	before := o.State()
	assert.Equal(t, 4, before.Completed)
	assert.Equal(t, StageLocation, before.Current())

	o.Stop()
	awaitClosed(t, done)
	assert.Equal(t, int32(1), provider.canceled.Load(), "position request must be canceled")

	t.Log("Firing the fix after teardown")
	provider.fire(&location.Position{Latitude: 12.34, Longitude: 56.78, Altitude: 100}, nil)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, before, o.State())
	assert.Equal(t, int32(0), v.locationCalls.Load())
	saved, err := sess.Load()
	require.NoError(t, err)
	assert.Empty(t, saved.DeviceID)

	run, ok := rec.get("run-1")
	require.True(t, ok)
	assert.Equal(t, store.RunStatusAbandoned, run.Status)
}

func TestStartSupersedesInFlightRun(t *testing.T) {
	provider := newManualProvider()
	v := acceptingVerifier("dev-9")
	var completions atomic.Int32
	rec := newMemRecorder()

	o := New(Deps{
		Platform:  passingPlatform(),
		Acquirer:  location.NewAcquirer(provider),
		Verifiers: v.factory(),
		Session:   loggedIn(),
		Recorder:  rec,
		Logger:    quietLogger,
	}, WithLocationTimeout(time.Minute), WithRunIDs(sequentialIDs()),
		WithOnComplete(func(State) { completions.Add(1) }))

	first := o.Start(context.Background())
	<-provider.started

	t.Log("Starting a second run while the first waits for a fix")
	second := o.Start(context.Background())
	awaitClosed(t, first)
	<-provider.started

	provider.fire(&location.Position{Latitude: 1, Longitude: 2, Altitude: 3}, nil)
	st := await(t, second)

	assert.Equal(t, PhaseCompleted, st.Phase)
	assert.Equal(t, "run-2", st.RunID)
	assert.Equal(t, int32(1), v.locationCalls.Load())
	assert.Equal(t, int32(1), completions.Load())

	r1, _ := rec.get("run-1")
	assert.Equal(t, store.RunStatusAbandoned, r1.Status)
	r2, _ := rec.get("run-2")
	assert.Equal(t, store.RunStatusCompleted, r2.Status)
}

func TestCallerCancelStopsRun(t *testing.T) {
	provider := newManualProvider()
	rec := newMemRecorder()
	o := New(Deps{
		Platform:  passingPlatform(),
		Acquirer:  location.NewAcquirer(provider),
		Verifiers: acceptingVerifier("dev-9").factory(),
		Session:   loggedIn(),
		Recorder:  rec,
		Logger:    quietLogger,
	}, WithLocationTimeout(time.Minute), WithRunIDs(sequentialIDs()))

	ctx, cancel := context.WithCancel(context.Background())
	done := o.Start(ctx)
	<-provider.started
	before := o.State()

	cancel()
	awaitClosed(t, done)
	assert.Equal(t, before, o.State())

	t.Log("The run record is closed out without waiting for Stop")
	run, ok := rec.get("run-1")
	require.True(t, ok)
	assert.Equal(t, store.RunStatusAbandoned, run.Status)
	assert.Equal(t, 4, run.Completed)
	assert.NotNil(t, run.FinishedAt)
	assert.NotEmpty(t, run.PostureHash)

	t.Log("A late fix after the cancel changes nothing, and Stop records nothing new")
	provider.fire(&location.Position{Latitude: 1, Longitude: 2}, nil)
	o.Stop()
	run, _ = rec.get("run-1")
	assert.Equal(t, store.RunStatusAbandoned, run.Status)
	assert.Equal(t, before, o.State())
}

func TestStartDoesNotProbeOnCallerGoroutine(t *testing.T) {
	t.Log("A slow signing certificate read must not hold up Start")
	platform := passingPlatform()
	gate := make(chan struct{})
	platform.set(func(p *fakePlatform) { p.certGate = gate })

	o := New(Deps{
		Platform:  platform,
		Acquirer:  fixedPosition(12.34, 56.78, 100.0),
		Verifiers: acceptingVerifier("dev-9").factory(),
		Session:   loggedIn(),
		Logger:    quietLogger,
	})

	started := make(chan (<-chan State), 1)
	go func() { started <- o.Start(context.Background()) }()

	var done <-chan State
	select {
	case done = <-started:
	case <-time.After(2 * time.Second):
		close(gate)
		t.Fatal("Start blocked on the platform")
	}
	assert.Equal(t, PhaseRunning, o.State().Phase)

	close(gate)
	st := await(t, done)
	assert.Equal(t, PhaseCompleted, st.Phase)
}

func TestSnapshotStagesAreCopies(t *testing.T) {
	o := New(Deps{
		Platform: passingPlatform(),
		Acquirer: fixedPosition(12.34, 56.78, 100.0),
		Session:  loggedIn(),
		Logger:   quietLogger,
	})

	idle := o.State()
	idle.Stages[0] = StageLocation
	assert.Equal(t, StagePermission, Stages()[0], "package stage order must not change")
	assert.Equal(t, StagePermission, o.State().Stages[0])

	st := initialState("run-x", 1)
	st.Stages[0] = StageLocation
	assert.Equal(t, StagePermission, initialState("run-y", 1).Stages[0])
}

func TestTerminalFailures(t *testing.T) {
	exchange := authority.Exchange{Sent: `{"username":"alice"}`, Received: `{"Error":"bad"}`}

	tests := []struct {
		name          string
		platform      func(*fakePlatform)
		sess          *session.Session
		acquire       func() (*location.Position, error)
		signature     func() (*authority.SignatureResult, error)
		location      func() (*authority.LocationResult, error)
		wantKind      Kind
		wantStage     Stage
		wantCompleted int
		wantMessage   string
		wantPrefix    string
		wantSigCalls  int32
		wantLocCalls  int32
	}{
		{
			name:          "signature unavailable",
			platform:      func(p *fakePlatform) { p.certErr = errBoom },
			wantKind:      LocalFailure,
			wantStage:     StageSignature,
			wantCompleted: 3,
			wantMessage:   MsgNoSignature,
		},
		{
			name:          "not logged in",
			sess:          &session.Session{},
			wantKind:      LocalFailure,
			wantStage:     StageSignature,
			wantCompleted: 3,
			wantMessage:   MsgNotLoggedIn,
		},
		{
			name: "signature rejected",
			signature: func() (*authority.SignatureResult, error) {
				return &authority.SignatureResult{Error: strPtr("digest mismatch")}, nil
			},
			wantKind:      RemoteRejected,
			wantStage:     StageSignature,
			wantCompleted: 3,
			wantMessage:   MsgSignatureRejected,
			wantSigCalls:  1,
		},
		{
			name: "signature transport failure",
			signature: func() (*authority.SignatureResult, error) {
				return nil, &authority.TransportError{Op: "signature check", Sent: `{"sha256":"ab"}`, Err: errors.New("connection refused")}
			},
			wantKind:      TransportFailure,
			wantStage:     StageSignature,
			wantCompleted: 3,
			wantMessage:   "App integrity check failed: connection refused\n\nSent:\n{\"sha256\":\"ab\"}",
			wantSigCalls:  1,
		},
		{
			name:          "no location fix",
			acquire:       func() (*location.Position, error) { return nil, location.ErrNoFix },
			wantKind:      LocalFailure,
			wantStage:     StageLocation,
			wantCompleted: 4,
			wantMessage:   MsgNoLocationFix,
			wantSigCalls:  1,
		},
		{
			name:          "location acquisition error",
			acquire:       func() (*location.Position, error) { return nil, errBoom },
			wantKind:      LocalFailure,
			wantStage:     StageLocation,
			wantCompleted: 4,
			wantMessage:   "Location check failed: boom",
			wantSigCalls:  1,
		},
		{
			name: "server error field",
			location: func() (*authority.LocationResult, error) {
				return &authority.LocationResult{Error: strPtr("bad"), DeviceID: strPtr("X"), Exchange: exchange}, nil
			},
			wantKind:      RemoteRejected,
			wantStage:     StageLocation,
			wantCompleted: 4,
			wantMessage:   "bad\n\nSent:\n{\"username\":\"alice\"}\n\nReceived:\n{\"Error\":\"bad\"}",
			wantSigCalls:  1,
			wantLocCalls:  1,
		},
		{
			name: "no device id",
			location: func() (*authority.LocationResult, error) {
				return &authority.LocationResult{}, nil
			},
			wantKind:      RemoteRejected,
			wantStage:     StageLocation,
			wantCompleted: 4,
			wantMessage:   MsgNotInLocation,
			wantSigCalls:  1,
			wantLocCalls:  1,
		},
		{
			name: "location timeout",
			location: func() (*authority.LocationResult, error) {
				return nil, &authority.TransportError{
					Op:   "location check",
					Sent: `{"username":"alice"}`,
					Err:  authority.ErrTimeout,
				}
			},
			wantKind:      TransportFailure,
			wantStage:     StageLocation,
			wantCompleted: 4,
			wantPrefix:    "Location check failed: request timed out\n\nSent:\n",
			wantSigCalls:  1,
			wantLocCalls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			platform := passingPlatform()
			if tt.platform != nil {
				tt.platform(platform)
			}
			v := acceptingVerifier("dev-9")
			if tt.signature != nil {
				v.signature = func(authority.SignatureRequest) (*authority.SignatureResult, error) { return tt.signature() }
			}
			if tt.location != nil {
				v.location = func(authority.LocationRequest) (*authority.LocationResult, error) { return tt.location() }
			}
			acq := fixedPosition(1, 2, 3)
			if tt.acquire != nil {
				acq = acquirerFunc(func(context.Context, time.Duration) (*location.Position, error) { return tt.acquire() })
			}
			sess := loggedIn()
			if tt.sess != nil {
				sess = session.NewMemoryStore(tt.sess)
			}
			var completions atomic.Int32

			o := New(Deps{
				Platform:  platform,
				Acquirer:  acq,
				Verifiers: v.factory(),
				Session:   sess,
				Logger:    quietLogger,
			}, WithOnComplete(func(State) { completions.Add(1) }))

			st := await(t, o.Start(context.Background()))

			assert.Equal(t, PhaseFailed, st.Phase)
			assert.True(t, st.Failed)
			require.NotNil(t, st.Failure)
			assert.Equal(t, tt.wantKind, st.Failure.Kind)
			assert.Equal(t, tt.wantStage, st.Failure.Stage)
			assert.Equal(t, tt.wantCompleted, st.Completed, "completed count must stop at the failing stage")
			assert.Equal(t, StageFailed, st.StatusOf(tt.wantStage))
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, st.Message)
			}
			if tt.wantPrefix != "" {
				assert.True(t, strings.HasPrefix(st.Message, tt.wantPrefix), "message %q", st.Message)
			}
			assert.Equal(t, tt.wantSigCalls, v.signatureCalls.Load())
			assert.Equal(t, tt.wantLocCalls, v.locationCalls.Load())
			assert.Equal(t, int32(0), v.reportCalls.Load(), "only tamper is reported")
			assert.Equal(t, int32(0), completions.Load())

			saved, _ := sess.Load()
			if saved != nil {
				assert.Empty(t, saved.DeviceID)
			}
		})
	}
}

func TestSessionWriteFailureFailsRun(t *testing.T) {
	failing := &failingDeviceStore{Store: loggedIn()}

	o := New(Deps{
		Platform:  passingPlatform(),
		Acquirer:  fixedPosition(1, 2, 3),
		Verifiers: acceptingVerifier("dev-9").factory(),
		Session:   failing,
		Logger:    quietLogger,
	})

	st := await(t, o.Start(context.Background()))
	assert.Equal(t, PhaseFailed, st.Phase)
	assert.Equal(t, LocalFailure, st.Failure.Kind)
	assert.Equal(t, 4, st.Completed)
	assert.Contains(t, st.Message, "Could not save device id")
	assert.Empty(t, st.DeviceID)
}

type failingDeviceStore struct {
	session.Store
}

func (failingDeviceStore) SetDeviceID(string) error { return errors.New("read-only file system") }

func TestSubscribeReceivesCurrentState(t *testing.T) {
	o := New(Deps{Platform: passingPlatform(), Session: loggedIn(), Logger: quietLogger})
	ch, unsubscribe := o.Subscribe()
	st := <-ch
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Equal(t, Stages(), st.Stages)

	unsubscribe()
	unsubscribe()
	_, ok := <-ch
	assert.False(t, ok, "channel closed after unsubscribe")
}
