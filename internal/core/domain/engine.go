package domain

// EngineState is the supervisor state of the polling engine.
type EngineState string

const (
	EngineStateIdle    EngineState = "idle"
	EngineStateRunning EngineState = "running"
	EngineStateBackoff EngineState = "backoff"
	EngineStateHalted  EngineState = "halted"
)
