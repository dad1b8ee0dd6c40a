package attestation

// Stage identifies one check in the pipeline.
type Stage string

const (
	StagePermission      Stage = "permission"
	StageLocationService Stage = "location_service"
	StageTamper          Stage = "tamper"
	StageSignature       Stage = "signature"
	StageLocation        Stage = "location"
)

var stageOrder = [...]Stage{
	StagePermission,
	StageLocationService,
	StageTamper,
	StageSignature,
	StageLocation,
}

// Stages returns the pipeline's stages in execution order.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder[:])
	return out
}

// Title is the label shown next to the stage in progress output.
func (s Stage) Title() string {
	switch s {
	case StagePermission:
		return "Location permission"
	case StageLocationService:
		return "Location services"
	case StageTamper:
		return "Device integrity"
	case StageSignature:
		return "App signature"
	case StageLocation:
		return "Device location"
	default:
		return string(s)
	}
}

// Phase is the coarse pipeline status.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhaseAwaiting  Phase = "awaiting_external_action"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// Action is the external hand-off a suspended pipeline is waiting on.
type Action string

const (
	ActionNone             Action = ""
	ActionPermissionPrompt Action = "permission_prompt"
	ActionLocationSettings Action = "location_settings"
)

// State is an immutable snapshot of pipeline progress. The orchestrator
// replaces it wholesale on each transition; readers never see a partial
// update and must not modify the Stages slice.
type State struct {
	RunID     string
	Attempt   int // 1 on Start, +1 for every restart after a hand-off
	Stages    []Stage
	Completed int // stages passed in the current attempt
	Phase     Phase

	// Failed and Message are retained for display once a run fails.
	Failed  bool
	Message string
	Failure *Failure

	// Awaiting and ResumeAt are set while Phase is PhaseAwaiting. ResumeAt is
	// always the first stage.
	Awaiting Action
	ResumeAt Stage

	DeviceID string // set once the location stage succeeds
}

// Current returns the stage being executed, or "" when not running.
func (s State) Current() Stage {
	if s.Phase != PhaseRunning || s.Completed >= len(s.Stages) {
		return ""
	}
	return s.Stages[s.Completed]
}

// Done reports whether the run reached a terminal phase.
func (s State) Done() bool {
	return s.Phase == PhaseCompleted || s.Phase == PhaseFailed
}

// StageStatus is the display status of a single stage within a snapshot.
type StageStatus string

const (
	StagePending StageStatus = "pending"
	StageActive  StageStatus = "running"
	StagePassed  StageStatus = "passed"
	StageFailed  StageStatus = "failed"
	StageBlocked StageStatus = "waiting"
)

// StatusOf returns the display status of stage within the snapshot.
func (s State) StatusOf(stage Stage) StageStatus {
	idx := -1
	for i, st := range s.Stages {
		if st == stage {
			idx = i
			break
		}
	}
	switch {
	case idx < 0:
		return StagePending
	case idx < s.Completed:
		return StagePassed
	case idx > s.Completed:
		return StagePending
	}
	switch s.Phase {
	case PhaseRunning:
		return StageActive
	case PhaseFailed:
		return StageFailed
	case PhaseAwaiting:
		return StageBlocked
	default:
		return StagePending
	}
}

func initialState(runID string, attempt int) State {
	return State{
		RunID:   runID,
		Attempt: attempt,
		Stages:  Stages(),
		Phase:   PhaseRunning,
	}
}
