package processor

import "github.com/tailored-agentic-units/statesync/observability"

// Processor event types.
const (
	EventStart          observability.EventType = "processor.event.start"
	EventComplete       observability.EventType = "processor.event.complete"
	EventDispatch       observability.EventType = "processor.dispatch"
	EventUpdate         observability.EventType = "processor.update"
	EventShortCircuit   observability.EventType = "processor.short_circuit"
	EventDeliveryFailed observability.EventType = "processor.delivery.failed"
	EventUpload         observability.EventType = "processor.upload"
	EventError          observability.EventType = "processor.error"
	EventReset          observability.EventType = "processor.reset"
)
