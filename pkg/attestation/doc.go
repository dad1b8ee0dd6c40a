// Package attestation runs the device attestation pipeline that gates the
// document area.
//
// The pipeline is a fixed, strictly ordered sequence of checks:
//
//  1. permission: fine-grained location permission is granted
//  2. location_service: the OS location provider is enabled
//  3. tamper: developer options are off
//  4. signature: the signing certificate digest is accepted by the authority
//  5. location: the authority accepts the position and issues a device id
//
// # Failure policy
//
// Every failure is terminal except a disabled location service, which
// suspends the run until the user returns from the settings hand-off. A
// missing permission also suspends the run on the permission prompt; a
// denial then fails it. Resuming always restarts at the first stage.
// A detected tamper condition is reported to the authority on a detached
// goroutine whose outcome never affects the run.
//
// # Concurrency
//
// One run is active at a time. Start, PermissionResult and SettingsReturned
// supersede the attempt in flight; Stop tears it down. A superseded or
// stopped attempt cancels its position request and makes no further state
// changes. State is an immutable snapshot replaced on every transition.
//
// # Components
//
//   - Orchestrator: the stage machine
//   - State: the observable progress snapshot
//   - Failure: the failure taxonomy and user-facing messages
//   - Gate: document access decision from recorded run history
package attestation
