package models

import (
	"encoding/json"
	"testing"
)

func TestNewSessionDefaults(t *testing.T) {
	s := NewSession("77011234567", "")
	if s.State != StateInitial {
		t.Errorf("expected StateInitial, got %v", s.State)
	}
	if s.Category != CategoryUnknown {
		t.Errorf("expected unknown category, got %v", s.Category)
	}
	if s.Language != LanguageRU {
		t.Errorf("expected ru fallback for invalid language, got %v", s.Language)
	}
	if s.Fields == nil || len(s.Fields) != 0 {
		t.Errorf("expected empty fields map, got %v", s.Fields)
	}
}

func TestSessionCloneIsDeep(t *testing.T) {
	s := NewSession("1", LanguageKZ)
	s.Fields[FieldIDDocument] = FieldValue{Attachment: &Attachment{URL: "https://x/1.jpg"}}

	c := s.Clone()
	c.Fields[FieldCity] = FieldValue{Text: "Almaty"}
	c.Fields[FieldIDDocument].Attachment.URL = "changed"

	if _, ok := s.Fields[FieldCity]; ok {
		t.Error("clone shares the fields map with the original")
	}
	if s.Fields[FieldIDDocument].Attachment.URL != "https://x/1.jpg" {
		t.Error("clone shares attachment pointers with the original")
	}
}

func TestStateTypeJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(StateTechPassport)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `"TECH_PASSPORT"` {
		t.Errorf("unexpected encoding %s", data)
	}
	var st StateType
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st != StateTechPassport {
		t.Errorf("expected StateTechPassport, got %v", st)
	}
	if err := json.Unmarshal([]byte(`"NOPE"`), &st); err == nil {
		t.Error("expected error for unknown state name")
	}
}

func TestInboundEventValid(t *testing.T) {
	tests := []struct {
		name string
		evt  InboundEvent
		want bool
	}{
		{"text", InboundEvent{UserID: "1", Text: "hi"}, true},
		{"attachment only", InboundEvent{UserID: "1", Attachment: &Attachment{Filename: "a.pdf"}}, true},
		{"no user", InboundEvent{Text: "hi"}, false},
		{"blank text", InboundEvent{UserID: "1", Text: "   "}, false},
	}
	for _, tt := range tests {
		if got := tt.evt.Valid(); got != tt.want {
			t.Errorf("%s: Valid() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestCategoryFields(t *testing.T) {
	if len(CategoryFields(CategoryUnknown)) != 0 {
		t.Error("unknown category should allow no fields")
	}
	for _, c := range []Category{CategoryDealership, CategoryClient} {
		keys := CategoryFields(c)
		if len(keys) != 5 {
			t.Errorf("%s: expected 5 fields, got %d", c, len(keys))
		}
	}
}
