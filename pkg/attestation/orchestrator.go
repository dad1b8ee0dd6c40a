package attestation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gobeyondidentity/docgate/pkg/audit"
	"github.com/gobeyondidentity/docgate/pkg/authority"
	"github.com/gobeyondidentity/docgate/pkg/location"
	"github.com/gobeyondidentity/docgate/pkg/posture"
	"github.com/gobeyondidentity/docgate/pkg/session"
	"github.com/gobeyondidentity/docgate/pkg/store"
)

// DefaultReportTimeout bounds the detached tamper report.
const DefaultReportTimeout = 10 * time.Second

// ErrNotAwaiting is returned when a hand-off result arrives while the
// pipeline is not waiting for that hand-off.
var ErrNotAwaiting = errors.New("pipeline is not awaiting that action")

// Acquirer obtains one position fix. *location.Acquirer implements it.
type Acquirer interface {
	Acquire(ctx context.Context, timeout time.Duration) (*location.Position, error)
}

// Verifier is the remote authority. *authority.Client implements it.
type Verifier interface {
	CheckSignature(ctx context.Context, req authority.SignatureRequest) (*authority.SignatureResult, error)
	CheckLocation(ctx context.Context, req authority.LocationRequest) (*authority.LocationResult, error)
	ReportFailure(ctx context.Context, report authority.FailureReport) error
}

// VerifierFactory creates a Verifier for the server in the session.
type VerifierFactory func(baseURL string) (Verifier, error)

// DefaultVerifierFactory returns a factory producing authority clients.
func DefaultVerifierFactory(opts ...authority.Option) VerifierFactory {
	return func(baseURL string) (Verifier, error) {
		if baseURL == "" {
			return nil, errors.New("no server address in session")
		}
		return authority.NewClient(baseURL, opts...), nil
	}
}

// Handoff starts the external interactions the pipeline suspends on. Both
// calls must return promptly; the outcome is delivered later through
// PermissionResult or SettingsReturned.
type Handoff interface {
	RequestPermission()
	OpenLocationSettings(message string)
}

// Recorder persists run history. *store.Store implements it.
type Recorder interface {
	SaveRun(run *store.Run) error
}

// Deps are the orchestrator's collaborators. Platform, Acquirer and Session
// are required.
type Deps struct {
	Platform  posture.Platform
	Acquirer  Acquirer
	Verifiers VerifierFactory // default: DefaultVerifierFactory()
	Session   session.Store
	Handoff   Handoff            // optional
	Recorder  Recorder           // optional
	Audit     audit.EventEmitter // optional
	Logger    *slog.Logger       // default: slog.Default()
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLocationTimeout bounds the wait for a position fix.
func WithLocationTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.locationTimeout = d }
}

// WithReportTimeout bounds the detached tamper report.
func WithReportTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.reportTimeout = d }
}

// WithOnComplete sets the callback invoked exactly once when a run completes.
func WithOnComplete(fn func(State)) Option {
	return func(o *Orchestrator) { o.onComplete = fn }
}

// WithRunIDs overrides run id generation.
func WithRunIDs(fn func() string) Option {
	return func(o *Orchestrator) { o.newRunID = fn }
}

// runInfo describes one logical run across its attempts. Mutable fields are
// guarded by Orchestrator.mu.
type runInfo struct {
	id        string
	username  string
	startedAt time.Time

	attempts    int
	postureHash string
	notified    bool
	finished    bool
}

// attempt is one traversal of the stages. It is stale once gen no longer
// matches the orchestrator's generation.
type attempt struct {
	ctx  context.Context
	gen  uint64
	info *runInfo
}

// Orchestrator runs the attestation pipeline. It is the only writer of the
// pipeline State and of the device id in the session store.
type Orchestrator struct {
	deps            Deps
	logger          *slog.Logger
	locationTimeout time.Duration
	reportTimeout   time.Duration
	onComplete      func(State)
	newRunID        func() string

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	state  State
	run    *runInfo
	subs   map[int]chan State
	nextID int

	reports sync.WaitGroup
}

// New creates an orchestrator.
func New(deps Deps, opts ...Option) *Orchestrator {
	if deps.Verifiers == nil {
		deps.Verifiers = DefaultVerifierFactory()
	}
	if deps.Audit == nil {
		deps.Audit = audit.NopEmitter{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		deps:            deps,
		logger:          logger,
		locationTimeout: location.DefaultTimeout,
		reportTimeout:   DefaultReportTimeout,
		newRunID:        uuid.NewString,
		state:           State{Stages: Stages(), Phase: PhaseIdle},
		subs:            make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current snapshot.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Subscribe returns a channel receiving every snapshot, starting with the
// current one. A subscriber that falls behind loses the oldest snapshots,
// never the newest. The returned func unsubscribes and closes the channel.
func (o *Orchestrator) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 32)
	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.subs[id] = ch
	ch <- o.state
	o.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subs, id)
			close(ch)
			o.mu.Unlock()
		})
	}
}

// Start begins a new run from the first stage, superseding any run in
// flight. The returned channel yields the snapshot the attempt stopped in
// (completed, failed or awaiting an external action) and is then closed.
// It is closed without a value if the attempt is superseded or stopped.
func (o *Orchestrator) Start(ctx context.Context) <-chan State {
	info := &runInfo{
		id:        o.newRunID(),
		startedAt: time.Now(),
	}
	if sess, err := o.deps.Session.Load(); err == nil {
		info.username = sess.Username
	}
	return o.launch(ctx, info)
}

// PermissionResult resumes a run suspended on the permission prompt.
// A denial fails the run; a grant restarts it from the first stage.
func (o *Orchestrator) PermissionResult(ctx context.Context, granted bool) (<-chan State, error) {
	o.mu.Lock()
	if o.state.Phase != PhaseAwaiting || o.state.Awaiting != ActionPermissionPrompt {
		o.mu.Unlock()
		return nil, ErrNotAwaiting
	}
	info := o.run
	gen := o.gen
	o.mu.Unlock()

	if granted {
		return o.launch(ctx, info), nil
	}

	done := make(chan State, 1)
	a := &attempt{ctx: context.Background(), gen: gen, info: info}
	if st, ok := o.fail(a, newFailure(PermissionDenied, StagePermission, MsgPermissionRequired, nil)); ok {
		done <- st
	}
	close(done)
	return done, nil
}

// SettingsReturned resumes a run suspended on the location settings
// hand-off by restarting it from the first stage.
func (o *Orchestrator) SettingsReturned(ctx context.Context) (<-chan State, error) {
	o.mu.Lock()
	if o.state.Phase != PhaseAwaiting || o.state.Awaiting != ActionLocationSettings {
		o.mu.Unlock()
		return nil, ErrNotAwaiting
	}
	info := o.run
	o.mu.Unlock()
	return o.launch(ctx, info), nil
}

// Stop tears the pipeline down. An in-flight position request is canceled
// and the attempt makes no further state changes.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	o.gen++
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	abandoned := o.abandonLocked()
	o.mu.Unlock()

	if abandoned != nil {
		o.save(abandoned)
	}
}

// WaitReports blocks until detached tamper reports have finished.
func (o *Orchestrator) WaitReports() {
	o.reports.Wait()
}

// launch starts a fresh attempt of info's run. The caller's goroutine only
// publishes the initial snapshot; probing happens on the attempt goroutine.
func (o *Orchestrator) launch(ctx context.Context, info *runInfo) <-chan State {
	runCtx, cancel := context.WithCancel(ctx)

	o.mu.Lock()
	o.gen++
	if o.cancel != nil {
		o.cancel()
	}
	var abandoned *store.Run
	if o.run != nil && o.run != info {
		abandoned = o.abandonLocked()
	}
	o.cancel = cancel
	o.run = info
	info.attempts++
	a := &attempt{ctx: runCtx, gen: o.gen, info: info}
	o.state = initialState(info.id, info.attempts)
	o.publishLocked()
	started := o.runRecordLocked(o.state)
	o.mu.Unlock()

	if abandoned != nil {
		o.save(abandoned)
	}
	o.save(started)
	o.logger.Debug("attestation run started", "run_id", info.id, "attempt", info.attempts)

	done := make(chan State, 1)
	go func() {
		defer close(done)
		defer cancel()
		o.recordPosture(a)
		if st, ok := o.execute(a); ok {
			done <- st
			return
		}
		if ctx.Err() != nil {
			o.abandonCanceled(a)
		}
	}()
	return done
}

// recordPosture snapshots the device posture for the run record.
func (o *Orchestrator) recordPosture(a *attempt) {
	hash := posture.Collect(o.deps.Platform).Hash()
	o.mu.Lock()
	if a.gen == o.gen {
		a.info.postureHash = hash
	}
	o.mu.Unlock()
}

// abandonCanceled records the run as abandoned when the caller's context
// ended the attempt while it was still current.
func (o *Orchestrator) abandonCanceled(a *attempt) {
	o.mu.Lock()
	if a.gen != o.gen {
		o.mu.Unlock()
		return
	}
	o.gen++
	o.cancel = nil
	abandoned := o.abandonLocked()
	o.mu.Unlock()

	if abandoned != nil {
		o.logger.Info("attestation run abandoned", "run_id", abandoned.ID, "completed", abandoned.Completed)
		o.save(abandoned)
	}
}

// execute walks the stages in order. It returns false when the attempt
// became stale before reaching a resting phase.
func (o *Orchestrator) execute(a *attempt) (State, bool) {
	p := o.deps.Platform

	if !posture.PermissionGranted(p) {
		st, ok := o.suspend(a, ActionPermissionPrompt, "")
		if ok && o.deps.Handoff != nil {
			o.deps.Handoff.RequestPermission()
		}
		return st, ok
	}
	if !o.advance(a) {
		return State{}, false
	}

	if !posture.LocationServiceEnabled(p) {
		st, ok := o.suspend(a, ActionLocationSettings, MsgServiceDisabled)
		if ok && o.deps.Handoff != nil {
			o.deps.Handoff.OpenLocationSettings(MsgServiceDisabled)
		}
		return st, ok
	}
	if !o.advance(a) {
		return State{}, false
	}

	if posture.Tampered(p) {
		st, ok := o.fail(a, newFailure(TamperDetected, StageTamper, MsgTamperDetected, nil))
		if ok {
			o.emit(audit.NewTamperDetected(a.info.username, a.info.id, MsgTamperDetected))
			o.reportTamper(a.info)
		}
		return st, ok
	}
	if !o.advance(a) {
		return State{}, false
	}

	sess, err := o.deps.Session.Load()
	if err == nil && !sess.LoggedIn() {
		err = session.ErrNotLoggedIn
	}
	if err != nil {
		return o.fail(a, newFailure(LocalFailure, StageSignature, MsgNotLoggedIn, err))
	}
	verifier, err := o.deps.Verifiers(sess.BaseURL())
	if err != nil {
		return o.fail(a, newFailure(LocalFailure, StageSignature, fmt.Sprintf("App integrity check failed: %v", err), err))
	}

	if f := o.checkSignature(a.ctx, verifier, sess.Username); f != nil {
		if a.ctx.Err() != nil {
			return State{}, false
		}
		return o.fail(a, f)
	}
	if !o.advance(a) {
		return State{}, false
	}

	deviceID, f := o.checkLocation(a.ctx, verifier, sess.Username)
	if a.ctx.Err() != nil {
		return State{}, false
	}
	if f != nil {
		return o.fail(a, f)
	}
	return o.complete(a, deviceID)
}

func (o *Orchestrator) checkSignature(ctx context.Context, v Verifier, username string) *Failure {
	digest, err := posture.LocalSignature(o.deps.Platform)
	if err != nil {
		return newFailure(LocalFailure, StageSignature, MsgNoSignature, err)
	}

	res, err := v.CheckSignature(ctx, authority.SignatureRequest{Username: username, SHA256: digest})
	if err != nil {
		return newFailure(TransportFailure, StageSignature, transportMessage("App integrity check failed", err), err)
	}
	if !res.Accepted() {
		return newFailure(RemoteRejected, StageSignature, MsgSignatureRejected,
			fmt.Errorf("signature rejected: %s", *res.Error))
	}
	return nil
}

func (o *Orchestrator) checkLocation(ctx context.Context, v Verifier, username string) (string, *Failure) {
	pos, err := o.deps.Acquirer.Acquire(ctx, o.locationTimeout)
	if err != nil {
		if errors.Is(err, location.ErrNoFix) {
			return "", newFailure(LocalFailure, StageLocation, MsgNoLocationFix, err)
		}
		return "", newFailure(LocalFailure, StageLocation, fmt.Sprintf("Location check failed: %v", err), err)
	}

	lat, lon, alt := pos.Strings()
	res, err := v.CheckLocation(ctx, authority.LocationRequest{
		Username:  username,
		Latitude:  lat,
		Longitude: lon,
		Altitude:  alt,
	})
	if err != nil {
		return "", newFailure(TransportFailure, StageLocation, transportMessage("Location check failed", err), err)
	}
	if msg := res.ErrorMessage(); res.Error != nil {
		return "", newFailure(RemoteRejected, StageLocation, withExchange(msg, res.Sent, res.Received),
			fmt.Errorf("location rejected: %s", msg))
	}
	if !res.Accepted() {
		return "", newFailure(RemoteRejected, StageLocation, MsgNotInLocation, errors.New("no device id issued"))
	}
	return res.Device(), nil
}

// commit applies fn to a copy of the state and publishes it, unless the
// attempt is stale.
func (o *Orchestrator) commit(a *attempt, fn func(*State)) (State, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if a.gen != o.gen || a.ctx.Err() != nil {
		return State{}, false
	}
	next := o.state
	fn(&next)
	o.state = next
	o.publishLocked()
	return next, true
}

func (o *Orchestrator) advance(a *attempt) bool {
	st, ok := o.commit(a, func(s *State) { s.Completed++ })
	if ok {
		o.logger.Debug("attestation stage passed", "run_id", st.RunID, "stage", st.Stages[st.Completed-1])
	}
	return ok
}

func (o *Orchestrator) suspend(a *attempt, action Action, msg string) (State, bool) {
	st, ok := o.commit(a, func(s *State) {
		s.Phase = PhaseAwaiting
		s.Awaiting = action
		s.ResumeAt = stageOrder[0]
		s.Message = msg
		if action == ActionLocationSettings {
			s.Failure = newFailure(ServiceUnavailable, StageLocationService, msg, nil)
		}
	})
	if !ok {
		return st, false
	}
	o.logger.Info("attestation awaiting external action", "run_id", st.RunID, "action", string(action))
	o.saveState(st)
	return st, true
}

func (o *Orchestrator) fail(a *attempt, f *Failure) (State, bool) {
	st, ok := o.commit(a, func(s *State) {
		s.Phase = PhaseFailed
		s.Failed = true
		s.Message = f.Message
		s.Failure = f
		s.Awaiting = ActionNone
		s.ResumeAt = ""
	})
	if !ok {
		return st, false
	}
	o.logger.Warn("attestation failed",
		"run_id", st.RunID,
		"stage", string(f.Stage),
		"kind", f.Kind.String(),
		"completed", st.Completed,
		"error", f.Err,
	)
	o.emit(audit.NewPipelineFailed(a.info.username, a.info.id, string(f.Stage), f.Kind.String(), f.Message))
	o.saveState(st)
	return st, true
}

// complete stores the device id and marks the run completed. The session
// write happens under the lock so a superseded attempt can never write.
func (o *Orchestrator) complete(a *attempt, deviceID string) (State, bool) {
	o.mu.Lock()
	if a.gen != o.gen || a.ctx.Err() != nil {
		o.mu.Unlock()
		return State{}, false
	}
	if err := o.deps.Session.SetDeviceID(deviceID); err != nil {
		o.mu.Unlock()
		return o.fail(a, newFailure(LocalFailure, StageLocation, fmt.Sprintf("Could not save device id: %v", err), err))
	}
	next := o.state
	next.Completed = len(next.Stages)
	next.Phase = PhaseCompleted
	next.DeviceID = deviceID
	next.Message = ""
	o.state = next
	o.publishLocked()
	notify := !a.info.notified
	a.info.notified = true
	o.mu.Unlock()

	o.logger.Info("attestation completed", "run_id", next.RunID, "device_id", deviceID)
	o.emit(audit.NewDeviceProvisioned(a.info.username, a.info.id, deviceID))
	o.emit(audit.NewPipelineCompleted(a.info.username, a.info.id, next.Attempt))
	o.saveState(next)

	if notify && o.onComplete != nil {
		o.onComplete(next)
	}
	return next, true
}

// reportTamper posts the tamper report on a detached goroutine. Its outcome
// is logged and never reaches the pipeline state.
func (o *Orchestrator) reportTamper(info *runInfo) {
	o.reports.Add(1)
	go func() {
		defer o.reports.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.reportTimeout)
		defer cancel()

		err := o.sendReport(ctx)
		if err != nil {
			o.logger.Warn("tamper report failed", "run_id", info.id, "error", err)
			o.emit(audit.NewReportFailed(info.username, info.id, err))
			return
		}
		o.logger.Info("tamper report sent", "run_id", info.id)
	}()
}

func (o *Orchestrator) sendReport(ctx context.Context) error {
	sess, err := o.deps.Session.Load()
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	v, err := o.deps.Verifiers(sess.BaseURL())
	if err != nil {
		return err
	}
	return v.ReportFailure(ctx, authority.FailureReport{Username: sess.Username, Message: MsgTamperReport})
}

// publishLocked delivers the current state to subscribers, dropping the
// oldest buffered snapshot for any subscriber that is full.
func (o *Orchestrator) publishLocked() {
	for _, ch := range o.subs {
		select {
		case ch <- o.state:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- o.state:
		default:
		}
	}
}

func (o *Orchestrator) emit(ev audit.Event) {
	if err := o.deps.Audit.Emit(ev); err != nil {
		o.logger.Error("audit emit failed", "event", string(ev.Type), "error", err)
	}
}

// abandonLocked returns the record for a run left unfinished by Stop or a
// new Start, or nil if the current run already finished.
func (o *Orchestrator) abandonLocked() *store.Run {
	if o.run == nil || o.run.finished || o.state.Done() || o.state.Phase == PhaseIdle {
		return nil
	}
	r := o.runRecordLocked(o.state)
	r.Status = store.RunStatusAbandoned
	now := time.Now()
	r.FinishedAt = &now
	o.run.finished = true
	return r
}

func (o *Orchestrator) saveState(st State) {
	o.mu.Lock()
	r := o.runRecordLocked(st)
	if r.Status.Terminal() && o.run != nil && o.run.id == st.RunID {
		o.run.finished = true
	}
	o.mu.Unlock()
	o.save(r)
}

func (o *Orchestrator) runRecordLocked(st State) *store.Run {
	r := &store.Run{
		ID:        st.RunID,
		Attempts:  st.Attempt,
		Completed: st.Completed,
		Total:     len(st.Stages),
		Message:   st.Message,
		DeviceID:  st.DeviceID,
	}
	if o.run != nil && o.run.id == st.RunID {
		r.Username = o.run.username
		r.StartedAt = o.run.startedAt
		r.PostureHash = o.run.postureHash
	}
	switch st.Phase {
	case PhaseCompleted:
		r.Status = store.RunStatusCompleted
	case PhaseFailed:
		r.Status = store.RunStatusFailed
	case PhaseAwaiting:
		r.Status = store.RunStatusAwaiting
	default:
		r.Status = store.RunStatusRunning
	}
	if st.Failure != nil {
		r.FailedStage = string(st.Failure.Stage)
		r.FailureKind = st.Failure.Kind.String()
	}
	if r.Status.Terminal() {
		now := time.Now()
		r.FinishedAt = &now
	}
	return r
}

func (o *Orchestrator) save(r *store.Run) {
	if o.deps.Recorder == nil || r == nil {
		return
	}
	if err := o.deps.Recorder.SaveRun(r); err != nil {
		o.logger.Warn("failed to record attestation run", "run_id", r.ID, "error", err)
	}
}
