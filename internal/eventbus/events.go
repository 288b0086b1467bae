package eventbus

// Event types published by the scheduler.
const (
	TypeTaskStarted        = "task.started"
	TypeTaskFinished       = "task.finished"
	TypeTaskSkipped        = "task.skipped"
	TypeTaskError          = "task.error"
	TypeMaintenanceChanged = "maintenance.changed"
	TypeConfigReloaded     = "config.reloaded"
)
