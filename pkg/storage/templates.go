package storage

import (
	"time"

	"github.com/MrCodeEU/facegate/pkg/recognition"
)

// now is replaced in tests.
var now = time.Now

// Template is one enrolled face sample.
type Template struct {
	Vector    recognition.Descriptor `json:"vector"`
	Label     string                 `json:"label"`
	ID        int                    `json:"id"`
	CreatedAt int64                  `json:"created_at"`
}

// TemplateSet is the ordered list of templates enrolled for one user.
//
// IDs are the set length at insertion time. Removing a template does not
// renumber the others, so an ID can repeat after a removal.
type TemplateSet struct {
	User      string
	Templates []Template
}

// NewTemplateSet returns an empty set for user.
func NewTemplateSet(user string) *TemplateSet {
	return &TemplateSet{User: user, Templates: []Template{}}
}

// Add appends a template built from vector and label and returns it.
// Near-duplicate vectors are accepted.
func (s *TemplateSet) Add(vector recognition.Descriptor, label string) Template {
	t := Template{
		Vector:    vector,
		Label:     label,
		ID:        len(s.Templates),
		CreatedAt: now().Unix(),
	}
	s.Templates = append(s.Templates, t)
	return t
}

// RemoveByID removes the first template with the given id and reports
// whether one was removed.
func (s *TemplateSet) RemoveByID(id int) bool {
	for i, t := range s.Templates {
		if t.ID == id {
			s.Templates = append(s.Templates[:i], s.Templates[i+1:]...)
			return true
		}
	}
	return false
}

// Clear empties the set in memory. Call Save to persist it.
func (s *TemplateSet) Clear() {
	s.Templates = []Template{}
}

// Len returns the number of templates.
func (s *TemplateSet) Len() int {
	return len(s.Templates)
}

// IsEmpty reports whether the set has no templates.
func (s *TemplateSet) IsEmpty() bool {
	return len(s.Templates) == 0
}

// List returns a copy of the templates in insertion order.
func (s *TemplateSet) List() []Template {
	out := make([]Template, len(s.Templates))
	copy(out, s.Templates)
	return out
}
