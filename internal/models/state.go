package models

import "time"

// Attachment references media sent by the user. Only the reference is kept, never the bytes.
type Attachment struct {
	URL      string `json:"url,omitempty"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// Ref returns the printable reference of the attachment.
func (a Attachment) Ref() string {
	if a.URL != "" {
		return a.URL
	}
	if a.Filename != "" {
		return a.Filename
	}
	return "attachment"
}

// FieldValue is one collected answer: free text or an attachment reference.
type FieldValue struct {
	Text       string      `json:"text,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// String renders the value for humans.
func (v FieldValue) String() string {
	if v.Attachment != nil {
		return v.Attachment.Ref()
	}
	return v.Text
}

// Session is the per-user conversation state.
type Session struct {
	UserID    string                  `json:"user_id"`
	State     StateType               `json:"state"`
	Category  Category                `json:"category"`
	Language  Language                `json:"language"`
	Fields    map[FieldKey]FieldValue `json:"fields"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// NewSession returns the initial session for a user never seen before.
func NewSession(userID string, lang Language) Session {
	if !lang.IsValid() {
		lang = LanguageRU
	}
	return Session{
		UserID:   userID,
		State:    StateInitial,
		Category: CategoryUnknown,
		Language: lang,
		Fields:   map[FieldKey]FieldValue{},
	}
}

// Clone returns a deep copy so callers can mutate without touching the stored value.
func (s Session) Clone() Session {
	out := s
	out.Fields = make(map[FieldKey]FieldValue, len(s.Fields))
	for k, v := range s.Fields {
		if v.Attachment != nil {
			a := *v.Attachment
			v.Attachment = &a
		}
		out.Fields[k] = v
	}
	return out
}

// Field returns the rendered value of key, or "" when unset.
func (s Session) Field(key FieldKey) string {
	if v, ok := s.Fields[key]; ok {
		return v.String()
	}
	return ""
}
