package persistence

import "time"

type (

	// Template is a finger_templates row
	Template struct {
		FUID     string
		UserID   int
		FingerID int
		Name     string
		Template []byte
		Image    []byte
		Created  time.Time
	}

	// TemplateInfo is a summary of a stored template, without the blob
	TemplateInfo struct {
		FUID         string
		UserID       int
		FingerID     int
		Name         string
		TemplateSize int
		ImageSize    int
		Created      time.Time
	}
)

// HasValidTemplate reports whether the row holds real template data.
// A row with an empty blob counts as available for enrollment.
func (t *TemplateInfo) HasValidTemplate() bool {
	return t.TemplateSize > 0
}
