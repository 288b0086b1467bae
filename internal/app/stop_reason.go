package app

// StopReason is logged when the app shuts down.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopDeadline   StopReason = "run_duration_elapsed"
	StopFatalError StopReason = "fatal_error"
)
