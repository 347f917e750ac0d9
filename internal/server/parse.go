package server

import (
	"errors"

	"github.com/valyala/fastjson"

	"realtime-chat/internal/storage"
)

// fieldError is returned for request payloads with missing or malformed fields,
// its text is sent back to the client as is
type fieldError string

func (e fieldError) Error() string { return string(e) }

func requiredID(v *fastjson.Value, field string) (int64, error) {
	if !v.Exists(field) {
		return 0, fieldError("Missing Field \"" + field + "\"")
	}
	return parseID(v.Get(field), field)
}

func optionalID(v *fastjson.Value, field string) (*int64, error) {
	f := v.Get(field)
	if f == nil || f.Type() == fastjson.TypeNull {
		return nil, nil
	}
	id, err := parseID(f, field)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func parseID(v *fastjson.Value, field string) (int64, error) {
	id, err := v.Int64()
	if err != nil {
		return 0, fieldError("Field \"" + field + "\" must be a 64-bit integer value")
	}
	if id < 1 {
		return 0, fieldError("Field \"" + field + "\" must be a valid id greater than zero")
	}
	return id, nil
}

func optionalString(v *fastjson.Value, field string) (*string, error) {
	f := v.Get(field)
	if f == nil || f.Type() == fastjson.TypeNull {
		return nil, nil
	}
	b, err := f.StringBytes()
	if err != nil {
		return nil, fieldError("Field \"" + field + "\" must be a string")
	}
	s := string(b)
	return &s, nil
}

func requiredIDs(v *fastjson.Value, field string) ([]int64, error) {
	if !v.Exists(field) {
		return nil, fieldError("Missing Field \"" + field + "\"")
	}
	values, err := v.Get(field).Array()
	if err != nil {
		return nil, fieldError("Field \"" + field + "\" must be an array")
	}

	ids := make([]int64, 0, len(values))
	for _, item := range values {
		id, err := item.Int64()
		if err != nil {
			return nil, fieldError("Each item in \"" + field + "\" array field must be a 64-bit integer value")
		}
		if id < 1 {
			return nil, fieldError("Each integer in \"" + field + "\" array must be a valid id greater than zero")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// messageFields lists every field parseMessage reads
var messageFields = []string{"text", "kinds", "shared_post", "shared_story", "shared_reel", "shared_user", "media"}

// hasMessage reports whether v carries any message content
func hasMessage(v *fastjson.Value) bool {
	for _, f := range messageFields {
		if v.Exists(f) {
			return true
		}
	}
	return false
}

// parseMessage reads message content, kinds are left empty when absent so they get derived
func parseMessage(v *fastjson.Value) (storage.NewMessage, error) {
	var (
		m   storage.NewMessage
		err error
	)

	if m.Body, err = optionalString(v, "text"); err != nil {
		return m, err
	}

	if f := v.Get("kinds"); f != nil && f.Type() != fastjson.TypeNull {
		values, err := f.Array()
		if err != nil {
			return m, fieldError("Field \"kinds\" must be an array")
		}
		for _, item := range values {
			b, err := item.StringBytes()
			if err != nil {
				return m, fieldError("Each item in \"kinds\" array field must be a string")
			}
			m.Kinds = append(m.Kinds, storage.MessageKind(b))
		}
	}

	refs := []struct {
		field string
		dst   **int64
	}{
		{"shared_post", &m.SharedPost},
		{"shared_story", &m.SharedStory},
		{"shared_reel", &m.SharedReel},
		{"shared_user", &m.SharedUser},
		{"media", &m.Media},
	}
	for _, ref := range refs {
		if *ref.dst, err = optionalID(v, ref.field); err != nil {
			return m, err
		}
	}

	return m, nil
}

func isFieldError(err error) bool {
	var fe fieldError
	return errors.As(err, &fe)
}
