// Package consentform owns the consent form definition and the per-participant
// form session: field values, section gating, validation and the
// edit -> preview -> submit lifecycle.
package consentform

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/TrialConsent/internal/util"
)

// DateLayout is the only accepted representation of date field values.
const DateLayout = "2006-01-02"

// Error variables for better error handling and testability
var (
	ErrUnknownField       = errors.New("unknown form field")
	ErrInvalidValue       = errors.New("value does not match field type")
	ErrInvalidSchema      = errors.New("invalid form schema")
	ErrMissingGuidance    = errors.New("field has no guidance entry")
	ErrNotEditable        = errors.New("form is not in editing state")
	ErrNotPreviewing      = errors.New("form is not in preview")
	ErrAlreadySubmitted   = errors.New("form already submitted")
	ErrSubmissionInFlight = errors.New("submission already in progress")
	ErrSubmissionFailed   = errors.New("consent submission failed")
	ErrNoPersister        = errors.New("no persistence service configured")
)

// FieldType is the value contract of a field.
type FieldType string

const (
	TypeShortText    FieldType = "short-text"
	TypeLongText     FieldType = "long-text"
	TypeDate         FieldType = "date"
	TypeNumber       FieldType = "number"
	TypeSingleChoice FieldType = "single-choice"
	TypeBoolean      FieldType = "boolean"
	TypeTel          FieldType = "tel"
	TypeEmail        FieldType = "email"
)

// FormField describes one datum of the form. Immutable once the schema is built.
type FormField struct {
	Key          FieldKey  `json:"key"`
	Label        string    `json:"label"`
	Type         FieldType `json:"type"`
	Required     bool      `json:"required"`
	Section      int       `json:"section"`
	Options      []string  `json:"options,omitempty"`
	DefaultToday bool      `json:"default_today,omitempty"`
}

// ZeroValue is the value of an untouched field.
func (f FormField) ZeroValue() any {
	if f.Type == TypeBoolean {
		return false
	}
	return ""
}

// IsFilled reports whether v satisfies the required-field check:
// true for booleans, non-blank for everything else.
func (f FormField) IsFilled(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return strings.TrimSpace(val) != ""
	default:
		return false
	}
}

// Normalize checks v against the field's type contract and returns the value
// to store. Email and phone shapes are deliberately not checked.
func (f FormField) Normalize(v any) (any, error) {
	if f.Type == TypeBoolean {
		switch val := v.(type) {
		case bool:
			return val, nil
		case string:
			if b, ok := util.ParseBool(val); ok {
				return b, nil
			}
		case nil:
			return false, nil
		}
		return nil, fmt.Errorf("%w: %s expects true or false", ErrInvalidValue, f.Key)
	}

	var s string
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		s = val
	case float64:
		if f.Type != TypeNumber || val != float64(int64(val)) {
			return nil, fmt.Errorf("%w: %s expects text", ErrInvalidValue, f.Key)
		}
		s = strconv.FormatInt(int64(val), 10)
	case int:
		if f.Type != TypeNumber {
			return nil, fmt.Errorf("%w: %s expects text", ErrInvalidValue, f.Key)
		}
		s = strconv.Itoa(val)
	default:
		return nil, fmt.Errorf("%w: %s expects text, got %T", ErrInvalidValue, f.Key, v)
	}

	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", nil
	}

	switch f.Type {
	case TypeDate:
		if _, err := time.Parse(DateLayout, trimmed); err != nil {
			return nil, fmt.Errorf("%w: %s expects a calendar date (YYYY-MM-DD)", ErrInvalidValue, f.Key)
		}
		return trimmed, nil
	case TypeNumber:
		if _, err := strconv.ParseInt(trimmed, 10, 64); err != nil {
			return nil, fmt.Errorf("%w: %s expects a whole number", ErrInvalidValue, f.Key)
		}
		return trimmed, nil
	case TypeSingleChoice:
		for _, opt := range f.Options {
			if strings.EqualFold(opt, trimmed) {
				return opt, nil
			}
		}
		return nil, fmt.Errorf("%w: %s must be one of %s", ErrInvalidValue, f.Key, strings.Join(f.Options, ", "))
	}
	return s, nil
}

// SectionInfo names a section of the form.
type SectionInfo struct {
	Number      int      `json:"number"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Synonyms    []string `json:"-"`
}

// Schema is the validated, read-only form definition shared by the form
// session and the assistant.
type Schema struct {
	fields          []FormField
	byKey           map[FieldKey]int
	sections        []SectionInfo
	guidance        map[FieldKey]Guidance
	acknowledgments []FieldKey
}

// NewSchema validates the definition. Every field must belong to a declared
// section and have a guidance entry; acknowledgment flags must be boolean fields.
func NewSchema(fields []FormField, sections []SectionInfo, guidance map[FieldKey]Guidance, acknowledgments ...FieldKey) (*Schema, error) {
	s := &Schema{
		fields:          append([]FormField(nil), fields...),
		byKey:           make(map[FieldKey]int, len(fields)),
		sections:        append([]SectionInfo(nil), sections...),
		guidance:        guidance,
		acknowledgments: acknowledgments,
	}

	for i, sec := range s.sections {
		if sec.Number != i+1 {
			return nil, fmt.Errorf("%w: sections must be numbered 1..n, got %d at position %d", ErrInvalidSchema, sec.Number, i)
		}
	}

	for i, f := range s.fields {
		if _, dup := s.byKey[f.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate field %q", ErrInvalidSchema, f.Key)
		}
		if f.Section < 1 || f.Section > len(s.sections) {
			return nil, fmt.Errorf("%w: field %q in undeclared section %d", ErrInvalidSchema, f.Key, f.Section)
		}
		if f.Type == TypeSingleChoice && len(f.Options) == 0 {
			return nil, fmt.Errorf("%w: single-choice field %q has no options", ErrInvalidSchema, f.Key)
		}
		if _, ok := guidance[f.Key]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingGuidance, f.Key)
		}
		s.byKey[f.Key] = i
	}

	for _, k := range acknowledgments {
		f, ok := s.Field(k)
		if !ok || f.Type != TypeBoolean {
			return nil, fmt.Errorf("%w: acknowledgment %q must be a boolean field", ErrInvalidSchema, k)
		}
	}
	return s, nil
}

// Fields returns the fields in display order.
func (s *Schema) Fields() []FormField {
	return append([]FormField(nil), s.fields...)
}

// Field looks a field up by key.
func (s *Schema) Field(key FieldKey) (FormField, bool) {
	i, ok := s.byKey[key]
	if !ok {
		return FormField{}, false
	}
	return s.fields[i], true
}

// Lookup resolves a raw key from a request or patch.
func (s *Schema) Lookup(key string) (FormField, bool) {
	return s.Field(FieldKey(key))
}

// Sections returns the declared sections in order.
func (s *Schema) Sections() []SectionInfo {
	return append([]SectionInfo(nil), s.sections...)
}

// SectionFields returns the fields of section n in display order.
func (s *Schema) SectionFields(n int) []FormField {
	var out []FormField
	for _, f := range s.fields {
		if f.Section == n {
			out = append(out, f)
		}
	}
	return out
}

// Guidance returns the help entry of a field.
func (s *Schema) Guidance(key FieldKey) (Guidance, bool) {
	g, ok := s.guidance[key]
	return g, ok
}

// Acknowledgments returns the flags that must be true before preview.
func (s *Schema) Acknowledgments() []FieldKey {
	return append([]FieldKey(nil), s.acknowledgments...)
}

// RequiredKeys lists every required field key in display order.
func (s *Schema) RequiredKeys() []FieldKey {
	var keys []FieldKey
	for _, f := range s.fields {
		if f.Required {
			keys = append(keys, f.Key)
		}
	}
	return keys
}
