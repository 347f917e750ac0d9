package chat

import (
	"strings"

	"realtime-chat/internal/storage"
)

// normalizeMessage trims the body, derives kinds when none are given and checks that
// every kind has the content it names and every reference has its kind
func normalizeMessage(m *storage.NewMessage) error {
	if m.Body != nil {
		body := strings.TrimSpace(*m.Body)
		if body == "" {
			m.Body = nil
		} else {
			m.Body = &body
		}
	}

	refs := map[storage.MessageKind]*int64{
		storage.KindMedia:       m.Media,
		storage.KindSharedPost:  m.SharedPost,
		storage.KindSharedStory: m.SharedStory,
		storage.KindSharedReel:  m.SharedReel,
		storage.KindSharedUser:  m.SharedUser,
	}

	if len(m.Kinds) == 0 {
		if m.Body != nil {
			m.Kinds = append(m.Kinds, storage.KindText)
		}
		for _, k := range []storage.MessageKind{
			storage.KindMedia, storage.KindSharedPost, storage.KindSharedStory, storage.KindSharedReel, storage.KindSharedUser,
		} {
			if refs[k] != nil {
				m.Kinds = append(m.Kinds, k)
			}
		}
		if len(m.Kinds) == 0 {
			return newError(InvalidOperation, "Message has neither text nor shared content")
		}
	}

	seen := make(map[storage.MessageKind]bool, len(m.Kinds))
	kinds := make([]storage.MessageKind, 0, len(m.Kinds))
	for _, k := range m.Kinds {
		if !k.Valid() {
			return newError(InvalidOperation, "Unknown message kind %q", k)
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		kinds = append(kinds, k)
	}
	m.Kinds = kinds

	if seen[storage.KindText] != (m.Body != nil) {
		if m.Body == nil {
			return newError(InvalidOperation, "Message of kind %s has no text", storage.KindText)
		}
		return newError(InvalidOperation, "Text given without kind %s", storage.KindText)
	}

	for k, ref := range refs {
		switch {
		case seen[k] && ref == nil:
			return newError(InvalidOperation, "Message of kind %s has no reference", k)
		case !seen[k] && ref != nil:
			return newError(InvalidOperation, "Reference given without kind %s", k)
		case ref != nil && *ref <= 0:
			return newError(InvalidOperation, "Reference of kind %s must be greater than zero", k)
		}
	}

	return nil
}
