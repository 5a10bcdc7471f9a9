package context

import "github.com/integration-core/core/internal/domain/event"

// EventWithContext stitches an Event together with its root context (and,
// transitively, that context's nested pipeline/extractor maps) into the
// exact payload shape the work queue carries (§4.7 step 3, §6).
type EventWithContext struct {
	Event   event.Event `json:"event"`
	Context RootContext `json:"context"`
}
