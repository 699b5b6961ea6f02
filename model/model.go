package model

import "time"

// Form is the mutable draft definition an author works on. Respondents never
// see it directly: they see the FormVersion the active pointer references.
type Form struct {
	ID                 string         `json:"id,omitempty"`
	Title              string         `json:"title"`
	Description        string         `json:"description"`
	Sections           []Section      `json:"sections"`
	Style              map[string]any `json:"style,omitempty"`
	Layout             map[string]any `json:"layout,omitempty"`
	SupportedLanguages []string       `json:"supported_languages"`
	DefaultLanguage    string         `json:"default_language"`
	ActiveVersionID    string         `json:"active_version_id,omitempty"`
	Revision           int            `json:"revision,omitempty"`
	CreatedAt          time.Time      `json:"created_at,omitempty"`
	UpdatedAt          time.Time      `json:"updated_at,omitempty"`
}

type Section struct {
	Key         string  `json:"key"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Fields      []Field `json:"fields"`
}

type Field struct {
	Key      string   `json:"key"`
	Type     string   `json:"type"`
	Label    string   `json:"label"`
	Help     string   `json:"help,omitempty"`
	Required bool     `json:"required"`
	Rule     string   `json:"rule,omitempty"`
	Options  []Option `json:"options,omitempty"`
}

type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// FormVersion is an immutable snapshot of a draft. Sections, Style and Layout
// are frozen at publish time; only translation overlays may be added later.
type FormVersion struct {
	ID            string         `json:"id"`
	FormID        string         `json:"form_id"`
	VersionString string         `json:"version_string"`
	Sections      []Section      `json:"sections"`
	Style         map[string]any `json:"style,omitempty"`
	Layout        map[string]any `json:"layout,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// FormDefinition is the respondent-facing view of a version, with a language
// overlay already merged in.
type FormDefinition struct {
	FormID        string         `json:"form_id"`
	VersionID     string         `json:"version_id"`
	VersionString string         `json:"version_string"`
	Language      string         `json:"language"`
	Sections      []Section      `json:"sections"`
	Style         map[string]any `json:"style,omitempty"`
	Layout        map[string]any `json:"layout,omitempty"`
}

// TranslationOverlay maps a field key to its localized text attributes.
// Overlays are presentation-only: they never touch type, required-ness,
// validation rules or ordering.
type TranslationOverlay map[string]FieldOverlay

type FieldOverlay struct {
	Label        string            `json:"label,omitempty"`
	Help         string            `json:"help,omitempty"`
	OptionLabels map[string]string `json:"option_labels,omitempty"`
}

type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusArchived  Status = "archived"
)

// FormResponse is one respondent submission. VersionID is set once at
// creation and never changes, whatever later happens to the form.
type FormResponse struct {
	ID        string         `json:"id"`
	FormID    string         `json:"form_id"`
	VersionID string         `json:"version_id"`
	Answers   map[string]any `json:"answers"`
	Status    Status         `json:"status"`
	IsDraft   bool           `json:"is_draft"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type EventType string

const (
	EventCreated       EventType = "created"
	EventUpdated       EventType = "updated"
	EventStatusChanged EventType = "status_changed"
	EventRestored      EventType = "restored"
	EventArchived      EventType = "archived"

	// Form lifecycle events.
	EventFormCreated         EventType = "form_created"
	EventFormUpdated         EventType = "form_updated"
	EventFormDeleted         EventType = "form_deleted"
	EventVersionPublished    EventType = "version_published"
	EventVersionActivated    EventType = "version_activated"
	EventTranslationsUpdated EventType = "translations_updated"
)

// HistoryEntry is one append-only audit record. Seq is assigned by the store
// and breaks timestamp ties; it defines the canonical order.
type HistoryEntry struct {
	ID        string         `json:"id"`
	Seq       int64          `json:"seq"`
	EventType EventType      `json:"event_type"`
	Actor     string         `json:"actor"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}
