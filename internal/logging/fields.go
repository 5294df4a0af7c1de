package logging

// Shared structured-log field names. Keeping them centralized makes the
// console and JSON output greppable across components.
const (
	FieldComponent     = "component"
	FieldSessionID     = "session_id"
	FieldChannel       = "channel"
	FieldState         = "state"
	FieldEventType     = "event_type"
	FieldCorrelationID = "correlation_id"
	FieldDurationMS    = "duration_ms"
	FieldFrames        = "frames"
	FieldPath          = "path"
	FieldErrorHint     = "error_hint"
)

// Event type values used with FieldEventType.
const (
	EventSessionStarted   = "session_started"
	EventSessionStopped   = "session_stopped"
	EventSessionCompleted = "session_completed"
	EventSessionFailed    = "session_failed"
	EventChannelStarted   = "channel_started"
	EventChannelStopped   = "channel_stopped"
	EventMergeStarted     = "merge_started"
	EventMergeCompleted   = "merge_completed"
	EventRecoveryStarted  = "recovery_started"
	EventRecoveryFinished = "recovery_finished"
)
