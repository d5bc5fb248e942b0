// Package message defines the on-wire payloads exchanged with the manager.
package message

import (
	"encoding/json"
	"fmt"
)

// Collection is the protocol version discriminator carried on every
// outbound envelope. It is emitted verbatim and never varies.
const Collection = 2

// Outbound and inbound message type tags.
const (
	typeSessionCreateRequest = "SESSION_CREATE_REQUEST"
	typeData                 = "DATA"
	typeSessionCreateResp    = "SESSION_CREATE_RESPONSE"
	typeSessionTerminate     = "SESSION_TERMINATE"
	typeSessionTerminateAll  = "SESSION_TERMINATE_ALL"
)

// SessionCreateRequest asks the manager to open a new session for plugin.
type SessionCreateRequest struct {
	FQDN   string `json:"fqdn"`
	Plugin string `json:"plugin"`
}

// Data carries a session-scoped payload to the manager.
type Data struct {
	FQDN        string          `json:"fqdn"`
	Plugin      string          `json:"plugin"`
	SessionID   string          `json:"session_id"`
	SessionSeq  uint64          `json:"session_seq"`
	Body        json.RawMessage `json:"body"`
}

// outboundEnvelope is the wire shape of Envelope: one tagged message per
// slot, since json.Marshal has no native support for a Vec<enum> the way
// the original Rust side does.
type outboundEnvelope struct {
	Collection       int               `json:"collection"`
	Messages         []json.RawMessage `json:"messages"`
	ServerBootTime   string            `json:"server_boot_time"`
	ClientStartTime  string            `json:"client_start_time"`
}

// Outbound is one of SessionCreateRequest or Data, tagged with `type` on
// the wire exactly as spec.md's Message Codec requires.
type Outbound struct {
	SessionCreateRequest *SessionCreateRequest
	Data                 *Data
}

// MarshalJSON emits the tagged variant form:
// {"type": "SESSION_CREATE_REQUEST", "fqdn": ..., "plugin": ...} or
// {"type": "DATA", "fqdn": ..., ...}.
func (o Outbound) MarshalJSON() ([]byte, error) {
	switch {
	case o.SessionCreateRequest != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			SessionCreateRequest
		}{typeSessionCreateRequest, *o.SessionCreateRequest})
	case o.Data != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			Data
		}{typeData, *o.Data})
	default:
		return nil, fmt.Errorf("message: empty Outbound has no variant to encode")
	}
}

// UnmarshalJSON decodes either tagged form back into the matching field.
func (o *Outbound) UnmarshalJSON(b []byte) error {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &tag); err != nil {
		return err
	}

	switch tag.Type {
	case typeSessionCreateRequest:
		var v SessionCreateRequest
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		o.SessionCreateRequest = &v
	case typeData:
		var v Data
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		o.Data = &v
	default:
		return fmt.Errorf("message: unknown outbound type %q", tag.Type)
	}
	return nil
}

// Envelope packs one or more outbound messages for a single POST.
type Envelope struct {
	Messages        []Outbound
	ServerBootTime  string
	ClientStartTime string
}

// NewEnvelope builds an Envelope carrying the given messages.
func NewEnvelope(messages []Outbound, serverBootTime, clientStartTime string) Envelope {
	return Envelope{
		Messages:        messages,
		ServerBootTime:  serverBootTime,
		ClientStartTime: clientStartTime,
	}
}

// MarshalJSON emits {"collection":2, "messages": [...], ...}.
func (e Envelope) MarshalJSON() ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(e.Messages))
	for _, m := range e.Messages {
		b, err := m.MarshalJSON()
		if err != nil {
			return nil, err
		}
		raw = append(raw, b)
	}

	return json.Marshal(outboundEnvelope{
		Collection:      Collection,
		Messages:        raw,
		ServerBootTime:  e.ServerBootTime,
		ClientStartTime: e.ClientStartTime,
	})
}

// UnmarshalJSON is provided for round-trip tests; the agent never decodes
// its own outbound envelopes in production.
func (e *Envelope) UnmarshalJSON(b []byte) error {
	var raw outboundEnvelope
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.Collection != Collection {
		return fmt.Errorf("message: envelope collection %d, want %d", raw.Collection, Collection)
	}

	msgs := make([]Outbound, 0, len(raw.Messages))
	for _, m := range raw.Messages {
		var o Outbound
		if err := o.UnmarshalJSON(m); err != nil {
			return err
		}
		msgs = append(msgs, o)
	}

	e.Messages = msgs
	e.ServerBootTime = raw.ServerBootTime
	e.ClientStartTime = raw.ClientStartTime
	return nil
}

// SessionCreateResponse announces that the manager accepted a session.
type SessionCreateResponse struct {
	Plugin    string `json:"plugin"`
	SessionID string `json:"session_id"`
}

// InboundData carries a manager-initiated payload for an active session.
type InboundData struct {
	Plugin    string          `json:"plugin"`
	SessionID string          `json:"session_id"`
	Body      json.RawMessage `json:"body"`
}

// SessionTerminate asks the agent to tear down one plugin's session.
type SessionTerminate struct {
	Plugin    string `json:"plugin"`
	SessionID string `json:"session_id"`
}

// Inbound is one of SessionCreateResponse, InboundData, SessionTerminate, or
// SessionTerminateAll (all pointer fields nil and SessionTerminateAll true).
type Inbound struct {
	SessionCreateResponse *SessionCreateResponse
	Data                  *InboundData
	SessionTerminate      *SessionTerminate
	SessionTerminateAll   bool
}

// UnmarshalJSON decodes one ManagerMessage variant by its `type` tag.
func (in *Inbound) UnmarshalJSON(b []byte) error {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &tag); err != nil {
		return err
	}

	switch tag.Type {
	case typeSessionCreateResp:
		var v SessionCreateResponse
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		in.SessionCreateResponse = &v
	case typeData:
		var v InboundData
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		in.Data = &v
	case typeSessionTerminate:
		var v SessionTerminate
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		in.SessionTerminate = &v
	case typeSessionTerminateAll:
		in.SessionTerminateAll = true
	default:
		return fmt.Errorf("message: unknown inbound type %q", tag.Type)
	}
	return nil
}

// MarshalJSON is provided for round-trip tests.
func (in Inbound) MarshalJSON() ([]byte, error) {
	switch {
	case in.SessionCreateResponse != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			SessionCreateResponse
		}{typeSessionCreateResp, *in.SessionCreateResponse})
	case in.Data != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			InboundData
		}{typeData, *in.Data})
	case in.SessionTerminate != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			SessionTerminate
		}{typeSessionTerminate, *in.SessionTerminate})
	case in.SessionTerminateAll:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{typeSessionTerminateAll})
	default:
		return nil, fmt.Errorf("message: empty Inbound has no variant to encode")
	}
}

// ManagerMessages is the decoded shape of a long-poll GET response.
type ManagerMessages struct {
	Messages []Inbound `json:"messages"`
}
