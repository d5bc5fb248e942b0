package message

import (
	"encoding/json"
	"testing"
)

func TestOutbound_SessionCreateRequest_RoundTrip(t *testing.T) {
	o := Outbound{SessionCreateRequest: &SessionCreateRequest{FQDN: "node-1.example.com", Plugin: "inventory"}}

	b, err := json.Marshal(o)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded["type"] != "SESSION_CREATE_REQUEST" {
		t.Errorf("type = %v, want SESSION_CREATE_REQUEST", decoded["type"])
	}
	if decoded["fqdn"] != "node-1.example.com" {
		t.Errorf("fqdn = %v, want node-1.example.com", decoded["fqdn"])
	}

	var got Outbound
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("round-trip Unmarshal() error = %v", err)
	}
	if got.SessionCreateRequest == nil {
		t.Fatal("SessionCreateRequest is nil after round trip")
	}
	if *got.SessionCreateRequest != *o.SessionCreateRequest {
		t.Errorf("got %+v, want %+v", *got.SessionCreateRequest, *o.SessionCreateRequest)
	}
	if got.Data != nil {
		t.Errorf("Data = %+v, want nil", got.Data)
	}
}

func TestOutbound_Data_RoundTrip(t *testing.T) {
	o := Outbound{Data: &Data{
		FQDN:       "node-1.example.com",
		Plugin:     "action_runner",
		SessionID:  "sess-1",
		SessionSeq: 3,
		Body:       json.RawMessage(`{"ok":true}`),
	}}

	b, err := json.Marshal(o)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got Outbound
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.Data == nil {
		t.Fatal("Data is nil after round trip")
	}
	if got.Data.SessionSeq != 3 {
		t.Errorf("SessionSeq = %d, want 3", got.Data.SessionSeq)
	}
	if string(got.Data.Body) != `{"ok":true}` {
		t.Errorf("Body = %s, want {\"ok\":true}", got.Data.Body)
	}
}

func TestOutbound_Empty_MarshalError(t *testing.T) {
	var o Outbound
	if _, err := json.Marshal(o); err == nil {
		t.Fatal("Marshal() of empty Outbound should error")
	}
}

func TestOutbound_UnknownType_UnmarshalError(t *testing.T) {
	var o Outbound
	err := json.Unmarshal([]byte(`{"type":"BOGUS"}`), &o)
	if err == nil {
		t.Fatal("Unmarshal() of unknown type should error")
	}
}

func TestEnvelope_RoundTrip(t *testing.T) {
	env := NewEnvelope([]Outbound{
		{SessionCreateRequest: &SessionCreateRequest{FQDN: "node-1", Plugin: "inventory"}},
		{Data: &Data{FQDN: "node-1", Plugin: "inventory", SessionID: "s1", SessionSeq: 0, Body: json.RawMessage(`null`)}},
	}, "1700000000", "1700000100")

	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if int(decoded["collection"].(float64)) != Collection {
		t.Errorf("collection = %v, want %d", decoded["collection"], Collection)
	}

	var got Envelope
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("round-trip Unmarshal() error = %v", err)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(got.Messages))
	}
	if got.Messages[0].SessionCreateRequest == nil {
		t.Error("Messages[0] should be a SessionCreateRequest")
	}
	if got.Messages[1].Data == nil {
		t.Error("Messages[1] should be a Data")
	}
	if got.ServerBootTime != "1700000000" {
		t.Errorf("ServerBootTime = %s, want 1700000000", got.ServerBootTime)
	}
	if got.ClientStartTime != "1700000100" {
		t.Errorf("ClientStartTime = %s, want 1700000100", got.ClientStartTime)
	}
}

func TestEnvelope_WrongCollection_UnmarshalError(t *testing.T) {
	var e Envelope
	err := json.Unmarshal([]byte(`{"collection":99,"messages":[],"server_boot_time":"0","client_start_time":"0"}`), &e)
	if err == nil {
		t.Fatal("Unmarshal() with wrong collection should error")
	}
}

func TestInbound_SessionCreateResponse_RoundTrip(t *testing.T) {
	raw := []byte(`{"type":"SESSION_CREATE_RESPONSE","plugin":"action_runner","session_id":"sess-9"}`)

	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if in.SessionCreateResponse == nil {
		t.Fatal("SessionCreateResponse is nil")
	}
	if in.SessionCreateResponse.Plugin != "action_runner" || in.SessionCreateResponse.SessionID != "sess-9" {
		t.Errorf("got %+v", *in.SessionCreateResponse)
	}

	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var roundTrip Inbound
	if err := json.Unmarshal(b, &roundTrip); err != nil {
		t.Fatalf("round-trip Unmarshal() error = %v", err)
	}
	if *roundTrip.SessionCreateResponse != *in.SessionCreateResponse {
		t.Errorf("round-trip mismatch: %+v vs %+v", *roundTrip.SessionCreateResponse, *in.SessionCreateResponse)
	}
}

func TestInbound_Data_RoundTrip(t *testing.T) {
	raw := []byte(`{"type":"DATA","plugin":"inventory","session_id":"s1","body":{"action":"ACTION_START"}}`)

	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if in.Data == nil {
		t.Fatal("Data is nil")
	}
	if in.Data.Plugin != "inventory" || in.Data.SessionID != "s1" {
		t.Errorf("got %+v", *in.Data)
	}

	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var roundTrip Inbound
	if err := json.Unmarshal(b, &roundTrip); err != nil {
		t.Fatalf("round-trip Unmarshal() error = %v", err)
	}
	if roundTrip.Data == nil {
		t.Fatal("round-trip Data is nil")
	}
	if roundTrip.Data.Plugin != in.Data.Plugin || roundTrip.Data.SessionID != in.Data.SessionID ||
		string(roundTrip.Data.Body) != string(in.Data.Body) {
		t.Errorf("round-trip mismatch: %+v vs %+v", *roundTrip.Data, *in.Data)
	}
}

func TestInbound_SessionTerminate_RoundTrip(t *testing.T) {
	raw := []byte(`{"type":"SESSION_TERMINATE","plugin":"storage_service","session_id":"s2"}`)

	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if in.SessionTerminate == nil {
		t.Fatal("SessionTerminate is nil")
	}
	if in.SessionTerminate.Plugin != "storage_service" {
		t.Errorf("Plugin = %s, want storage_service", in.SessionTerminate.Plugin)
	}
	if in.SessionTerminateAll {
		t.Error("SessionTerminateAll should be false")
	}

	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var roundTrip Inbound
	if err := json.Unmarshal(b, &roundTrip); err != nil {
		t.Fatalf("round-trip Unmarshal() error = %v", err)
	}
	if roundTrip.SessionTerminate == nil {
		t.Fatal("round-trip SessionTerminate is nil")
	}
	if *roundTrip.SessionTerminate != *in.SessionTerminate {
		t.Errorf("round-trip mismatch: %+v vs %+v", *roundTrip.SessionTerminate, *in.SessionTerminate)
	}
}

func TestInbound_SessionTerminateAll(t *testing.T) {
	raw := []byte(`{"type":"SESSION_TERMINATE_ALL"}`)

	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !in.SessionTerminateAll {
		t.Error("SessionTerminateAll should be true")
	}
	if in.SessionCreateResponse != nil || in.Data != nil || in.SessionTerminate != nil {
		t.Error("all other fields should be nil")
	}

	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded["type"] != "SESSION_TERMINATE_ALL" {
		t.Errorf("type = %v, want SESSION_TERMINATE_ALL", decoded["type"])
	}
}

func TestInbound_UnknownType_UnmarshalError(t *testing.T) {
	var in Inbound
	err := json.Unmarshal([]byte(`{"type":"BOGUS"}`), &in)
	if err == nil {
		t.Fatal("Unmarshal() of unknown type should error")
	}
}

func TestManagerMessages_MultipleVariants(t *testing.T) {
	raw := []byte(`{"messages":[
		{"type":"SESSION_CREATE_RESPONSE","plugin":"inventory","session_id":"s1"},
		{"type":"SESSION_TERMINATE_ALL"}
	]}`)

	var mm ManagerMessages
	if err := json.Unmarshal(raw, &mm); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(mm.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(mm.Messages))
	}
	if mm.Messages[0].SessionCreateResponse == nil {
		t.Error("Messages[0] should be a SessionCreateResponse")
	}
	if !mm.Messages[1].SessionTerminateAll {
		t.Error("Messages[1] should be SessionTerminateAll")
	}
}
