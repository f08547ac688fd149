package strategy

type State string

type Event string

const (
	StateSize     State = "SIZE"
	StateOpen     State = "OPEN"
	StateHold     State = "HOLD"
	StateClose    State = "CLOSE"
	StateCooldown State = "COOLDOWN"
)

const (
	EventSized  Event = "SIZED"
	EventOpened Event = "OPENED"
	EventHeld   Event = "HELD"
	EventClosed Event = "CLOSED"
	EventCooled Event = "COOLED"
	// EventAbort restarts the cycle from SIZE.
	EventAbort Event = "ABORT"
)
