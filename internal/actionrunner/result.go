package actionrunner

import "encoding/json"

// WrapperVersion is the constant integer every ActionResult carries, per
// spec.md §3. It is never anything else.
const WrapperVersion = 1

// Result is the canonical reply body the action runner returns to the
// manager: either Ok{wrapper_version, payload} or Err{wrapper_version,
// error_message}.
type Result struct {
	ok      bool
	payload any
	errMsg  string
}

// OK wraps a successful, JSON-marshalable payload.
func OK(payload any) Result {
	return Result{ok: true, payload: payload}
}

// Err wraps a failure as its formatted error string, matching the
// original's `AgentErr { error: format!("{:?}", e) }` convention.
func Err(err error) Result {
	return Result{ok: false, errMsg: err.Error()}
}

// ErrString wraps a failure whose text is part of the external contract
// (spec.md §4.4's "action and args required to start action" message).
func ErrString(msg string) Result {
	return Result{ok: false, errMsg: msg}
}

// Default is the zero-payload success result used whenever an action
// completes with nothing meaningful to report (cancellation, a bare
// ACTION_CANCEL reply).
func Default() Result { return OK(nil) }

// MarshalJSON emits {"AgentOk": {...}} or {"AgentErr": {...}} per
// spec.md §6.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.ok {
		return json.Marshal(struct {
			AgentOk struct {
				WrapperVersion int `json:"wrapper_version"`
				Result         any `json:"result"`
			} `json:"AgentOk"`
		}{
			AgentOk: struct {
				WrapperVersion int `json:"wrapper_version"`
				Result         any `json:"result"`
			}{WrapperVersion, r.payload},
		})
	}
	return json.Marshal(struct {
		AgentErr struct {
			WrapperVersion int    `json:"wrapper_version"`
			Error          string `json:"error"`
		} `json:"AgentErr"`
	}{
		AgentErr: struct {
			WrapperVersion int    `json:"wrapper_version"`
			Error          string `json:"error"`
		}{WrapperVersion, r.errMsg},
	})
}

// UnmarshalJSON is provided for round-trip tests.
func (r *Result) UnmarshalJSON(b []byte) error {
	var env struct {
		AgentOk *struct {
			WrapperVersion int             `json:"wrapper_version"`
			Result         json.RawMessage `json:"result"`
		} `json:"AgentOk"`
		AgentErr *struct {
			WrapperVersion int    `json:"wrapper_version"`
			Error          string `json:"error"`
		} `json:"AgentErr"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	switch {
	case env.AgentOk != nil:
		var payload any
		if len(env.AgentOk.Result) > 0 {
			if err := json.Unmarshal(env.AgentOk.Result, &payload); err != nil {
				return err
			}
		}
		*r = OK(payload)
	case env.AgentErr != nil:
		*r = ErrString(env.AgentErr.Error)
	}
	return nil
}

// IsOK reports whether the result is the Ok variant (tests only).
func (r Result) IsOK() bool { return r.ok }

// ErrorMessage returns the Err variant's message (tests only).
func (r Result) ErrorMessage() string { return r.errMsg }

// Payload returns the Ok variant's payload (tests only).
func (r Result) Payload() any { return r.payload }
