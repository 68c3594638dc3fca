package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseClientEvent_Join(t *testing.T) {
	raw := []byte(`{"type":"join","token":"abc.def.ghi"}`)

	typ, evt, err := ParseClientEvent(raw)
	if err != nil {
		t.Fatalf("ParseClientEvent returned error: %v", err)
	}
	if typ != TypeJoin {
		t.Errorf("type = %q, want %q", typ, TypeJoin)
	}
	join, ok := evt.(JoinEvent)
	if !ok {
		t.Fatalf("event type = %T, want JoinEvent", evt)
	}
	if join.Token != "abc.def.ghi" {
		t.Errorf("token = %q, want %q", join.Token, "abc.def.ghi")
	}
}

func TestParseClientEvent_PrivateMessage(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantTo   string
		wantText string
		wantKind string
	}{
		{
			name:     "text only",
			raw:      `{"type":"privateMessage","to":"bob","text":"hello"}`,
			wantTo:   "bob",
			wantText: "hello",
		},
		{
			name:     "media",
			raw:      `{"type":"privateMessage","to":"bob","mediaKind":"image","mediaPayload":"aGVsbG8="}`,
			wantTo:   "bob",
			wantKind: "image",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ, evt, err := ParseClientEvent([]byte(tt.raw))
			if err != nil {
				t.Fatalf("ParseClientEvent returned error: %v", err)
			}
			if typ != TypePrivateMessage {
				t.Errorf("type = %q, want %q", typ, TypePrivateMessage)
			}
			pm, ok := evt.(PrivateMessageEvent)
			if !ok {
				t.Fatalf("event type = %T, want PrivateMessageEvent", evt)
			}
			if pm.To != tt.wantTo {
				t.Errorf("to = %q, want %q", pm.To, tt.wantTo)
			}
			if pm.Text != tt.wantText {
				t.Errorf("text = %q, want %q", pm.Text, tt.wantText)
			}
			if pm.MediaKind != tt.wantKind {
				t.Errorf("mediaKind = %q, want %q", pm.MediaKind, tt.wantKind)
			}
			if tt.wantKind != "" && string(pm.MediaPayload) != "hello" {
				t.Errorf("mediaPayload = %q, want %q", pm.MediaPayload, "hello")
			}
		})
	}
}

func TestParseClientEvent_GroupMessage(t *testing.T) {
	raw := []byte(`{"type":"groupMessage","groupId":42,"text":"hi all"}`)

	_, evt, err := ParseClientEvent(raw)
	if err != nil {
		t.Fatalf("ParseClientEvent returned error: %v", err)
	}
	gm, ok := evt.(GroupMessageEvent)
	if !ok {
		t.Fatalf("event type = %T, want GroupMessageEvent", evt)
	}
	if gm.GroupID != 42 {
		t.Errorf("groupId = %d, want 42", gm.GroupID)
	}
	if gm.Text != "hi all" {
		t.Errorf("text = %q, want %q", gm.Text, "hi all")
	}
}

func TestParseClientEvent_Errors(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		wantUnknown bool
	}{
		{"not json", `{{{`, false},
		{"missing type", `{"to":"bob"}`, false},
		{"empty type", `{"type":""}`, false},
		{"unknown type", `{"type":"typing"}`, true},
		{"server-only type", `{"type":"moderation","message":"x"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseClientEvent([]byte(tt.raw))
			if err == nil {
				t.Fatal("ParseClientEvent returned nil error")
			}
			if got := errors.Is(err, ErrUnknownType); got != tt.wantUnknown {
				t.Errorf("errors.Is(err, ErrUnknownType) = %v, want %v", got, tt.wantUnknown)
			}
		})
	}
}

func TestNewServerEvent_InjectsType(t *testing.T) {
	data, err := NewServerEvent(TypePrivateMessage, PrivateDelivery{
		SenderHandle: "alice",
		SenderName:   "Alice",
		Text:         "hello",
		CreatedAt:    1700000000000,
	})
	if err != nil {
		t.Fatalf("NewServerEvent returned error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if m["type"] != TypePrivateMessage {
		t.Errorf("type = %v, want %q", m["type"], TypePrivateMessage)
	}
	if m["senderHandle"] != "alice" {
		t.Errorf("senderHandle = %v, want %q", m["senderHandle"], "alice")
	}
}

func TestNewNotice(t *testing.T) {
	data := NewNotice("you are not friends with bob")

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("notice is not valid JSON: %v", err)
	}
	if m["type"] != TypeModeration {
		t.Errorf("type = %v, want %q", m["type"], TypeModeration)
	}
	if m["message"] != "you are not friends with bob" {
		t.Errorf("message = %v", m["message"])
	}
}

func TestValidKind(t *testing.T) {
	for _, kind := range []string{"", KindText, KindImage, KindAudio, KindVideo, KindFile} {
		if !ValidKind(kind) {
			t.Errorf("ValidKind(%q) = false, want true", kind)
		}
	}
	for _, kind := range []string{"gif", "IMAGE", "document"} {
		if ValidKind(kind) {
			t.Errorf("ValidKind(%q) = true, want false", kind)
		}
	}
}
