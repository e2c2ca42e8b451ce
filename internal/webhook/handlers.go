package webhook

import (
	"context"

	"github.com/adiouf/wabridge/internal/domain/models"
)

// EventHandler is a user-supplied callback for one extracted event. Handlers
// may block; the dispatcher awaits each handler before invoking the next one
// for the same event.
type EventHandler func(ctx context.Context, event models.ExtractedEvent) error

// Handlers is the typed dispatch table. Fields are matched by event category
// and sub-type; nil entries are skipped. Media sub-types (image, video, audio,
// document, sticker) invoke Message and Media; voice invokes Message and
// Voice; location, contacts, interactive and reaction invoke Message plus the
// matching specialized handler. Anything unmatched falls through to Unknown.
type Handlers struct {
	Message     EventHandler
	Media       EventHandler
	Voice       EventHandler
	Location    EventHandler
	Contact     EventHandler
	Interactive EventHandler
	Reaction    EventHandler
	Status      EventHandler
	Error       EventHandler
	Unknown     EventHandler
}

// named pairs a handler with a label for error reporting.
type named struct {
	name string
	fn   EventHandler
}

// handlersFor resolves the ordered handler chain for one event.
func (h Handlers) handlersFor(event models.ExtractedEvent) []named {
	var chain []named
	add := func(name string, fn EventHandler) {
		if fn != nil {
			chain = append(chain, named{name: name, fn: fn})
		}
	}

	switch event.Type.Category() {
	case "message":
		add("message", h.Message)
		switch event.Type.SubType() {
		case "image", "video", "audio", "document", "sticker":
			add("media", h.Media)
		case "voice":
			add("voice", h.Voice)
		case "location":
			add("location", h.Location)
		case "contacts":
			add("contact", h.Contact)
		case "interactive":
			add("interactive", h.Interactive)
		case "reaction":
			add("reaction", h.Reaction)
		}
	case "status":
		add("status", h.Status)
	case "system":
		add("error", h.Error)
	}

	if len(chain) == 0 {
		add("unknown", h.Unknown)
	}
	return chain
}
