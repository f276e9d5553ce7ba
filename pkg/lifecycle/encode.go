package lifecycle

import (
	"fmt"

	"github.com/tidwall/sjson"
)

// Encode renders e in the payload shape the Application Manager sends
func Encode(e Event) (string, error) {
	if e == nil {
		return "", fmt.Errorf("lifecycle: cannot encode nil event")
	}

	out, err := sjson.Set(`{}`, FieldEvent, e.Kind())
	if err != nil {
		return "", err
	}
	switch ev := e.(type) {
	case Relaunched:
		out, err = sjson.Set(out, FieldParameters, ev.Parameters)
	case LowMemory:
		out, err = sjson.Set(out, FieldState, ev.State.String())
	}
	if err != nil {
		return "", err
	}
	return out, nil
}
