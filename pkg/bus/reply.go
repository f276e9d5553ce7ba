package bus

import (
	"sort"

	"github.com/tidwall/sjson"
)

// Canonical error texts sent in failure replies
const (
	ErrorTextUnknown        = "Unknown Error."
	ErrorTextBadJSON        = "Malformed json."
	ErrorTextInvalidParams  = "Invalid parameters."
	ErrorTextNotImplemented = "Not implemented."
	ErrorTextInternal       = "Internal error."
)

const successPayload = `{"returnValue":true}`

// SuccessPayload returns {"returnValue":true}
func SuccessPayload() string {
	return successPayload
}

// ErrorPayload returns {"returnValue":false,"errorText":text}
func ErrorPayload(text string) string {
	out, err := sjson.Set(`{"returnValue":false}`, "errorText", text)
	if err != nil {
		return `{"returnValue":false}`
	}
	return out
}

// BuildPayload encodes fields as a JSON object with keys in sorted order
func BuildPayload(fields map[string]any) (string, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := "{}"
	for _, k := range keys {
		var err error
		out, err = sjson.Set(out, escapeKey(k), fields[k])
		if err != nil {
			return "", err
		}
	}
	return out, nil
}

// ReplySuccess answers msg with {"returnValue":true}
func ReplySuccess(msg Message) error {
	return msg.Reply(successPayload)
}

// ReplyError answers msg with a failure carrying text
func ReplyError(msg Message, text string) error {
	return msg.Reply(ErrorPayload(text))
}

// ReplyUnknownError answers msg with "Unknown Error."
func ReplyUnknownError(msg Message) error { return ReplyError(msg, ErrorTextUnknown) }

// ReplyBadJSON answers msg with "Malformed json."
func ReplyBadJSON(msg Message) error { return ReplyError(msg, ErrorTextBadJSON) }

// ReplyInvalidParams answers msg with "Invalid parameters."
func ReplyInvalidParams(msg Message) error { return ReplyError(msg, ErrorTextInvalidParams) }

// ReplyNotImplemented answers msg with "Not implemented."
func ReplyNotImplemented(msg Message) error { return ReplyError(msg, ErrorTextNotImplemented) }

// ReplyInternalError answers msg with "Internal error."
func ReplyInternalError(msg Message) error { return ReplyError(msg, ErrorTextInternal) }

// escapeKey keeps sjson from reading path syntax in a literal key
func escapeKey(k string) string {
	var b []byte
	for i := 0; i < len(k); i++ {
		switch k[i] {
		case '.', '*', '?', '|', '#', '@', '\\', ':':
			b = append(b, '\\')
		}
		b = append(b, k[i])
	}
	return string(b)
}
