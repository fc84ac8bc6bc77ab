package command

// Command type constants
const (
	Record  Type = "record"
	Ps      Type = "ps"
	Dump    Type = "dump"
	Replay  Type = "replay"
	Version Type = "version"
)

// Type is the command type name
type Type string

// Command state constants
const (
	StateUnknown   = "unknown"
	StateError     = "error"
	StateStarted   = "started"
	StateCompleted = "completed"
	// StateTruncated is a recording stopped early by the dump byte budget.
	StateTruncated = "truncated"
	StateCanceled  = "canceled"
)

// State is the command state type
type State string
