package actionrunner

import (
	"context"
	"encoding/json"
)

// Handler is the uniform shape every registered action is reduced to:
// decoded arguments in, a result or error out. Argument decoding and
// result wrapping are encapsulated by whoever builds the Catalog entry
// (see internal/actions), so the runner itself only ever sees
// `json.RawMessage -> (any, error)`.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Catalog is the process-wide action-name -> handler mapping, built once
// at plugin construction by enumerating internal/actions' registrations.
type Catalog map[string]Handler

// Typed wraps a handler whose argument type is known at registration
// time, decoding args into A before calling fn. This is the Go analogue
// of the original's `mk_callback`, which closed over the argument type
// via a generic function pointer; Go expresses the same idea with a
// generic wrapper function instead of a generic struct field.
func Typed[A any, R any](fn func(ctx context.Context, args A) (R, error)) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args A
		if len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, err
			}
		}
		return fn(ctx, args)
	}
}
