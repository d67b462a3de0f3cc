package observability

import "context"

// NoOpObserver discards events. Subsystems created without an observer
// emit to it.
type NoOpObserver struct{}

func (NoOpObserver) OnEvent(context.Context, Event) {}
