package lifecycle

import (
	"github.com/fluxorio/appbridge/pkg/payload"
)

// Payload field names
const (
	FieldEvent      = "event"
	FieldParameters = "parameters"
	FieldState      = "state"
)

// ClassifyOptions tunes classification policy
type ClassifyOptions struct {
	// StrictLowMemory rejects unrecognized low-memory states with
	// InvalidEnumValue instead of reporting Normal.
	StrictLowMemory bool
}

// Classify maps a parsed payload to a lifecycle Event.
//
// A payload without a string "event" field always fails with
// MissingField("event"), whatever else it carries. Unrecognized event names
// are not an error; they classify as Unknown.
func Classify(v payload.Value, opts ClassifyOptions) (Event, error) {
	name, err := v.String(FieldEvent)
	if err != nil {
		return nil, payload.NewMissingField(FieldEvent)
	}

	switch name {
	case KindRelaunched:
		params, err := v.String(FieldParameters)
		if err != nil {
			return nil, err
		}
		return Relaunched{Parameters: params}, nil
	case KindActivating:
		return Activating{}, nil
	case KindDeactivating:
		return Deactivating{}, nil
	case KindSuspending:
		return Suspending{}, nil
	case KindLowMemory:
		raw, err := v.String(FieldState)
		if err != nil {
			return nil, err
		}
		state, ok := ParseLowMemoryState(raw)
		if !ok && opts.StrictLowMemory {
			return nil, payload.NewInvalidEnumValue(FieldState, raw)
		}
		return LowMemory{State: state}, nil
	default:
		return Unknown{Name: name}, nil
	}
}
