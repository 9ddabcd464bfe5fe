package models

import (
	"encoding/json"
	"fmt"
	"path"
	"time"

	"gorm.io/gorm"
)

// Render field names
const (
	RenderIDField         = "id"
	RenderDocumentIDField = "document_id"
	RenderCreatedAtField  = "created_at"
	RenderStateField      = "state"
	RenderJobHandleField  = "job_handle"
	RenderJobInspectField = "job_inspect"
	RenderJobLogsField    = "job_logs"
	RenderJobRemovedField = "job_removed"
	RenderIsExpiredField  = "is_expired"
	RenderIsDeletedField  = "is_deleted"
)

// RenderOutputRoot is the storage prefix every render writes below.
const RenderOutputRoot = "render-output"

// RenderState represents where a render is in its lifecycle
type RenderState string

// Render states. Transitions only move forward:
// unstarted -> running -> success | failure.
const (
	RenderStateUnstarted RenderState = "unstarted"
	RenderStateRunning   RenderState = "running"
	RenderStateSuccess   RenderState = "success"
	RenderStateFailure   RenderState = "failure"
)

// String returns the string representation of the render state
func (s RenderState) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is possible.
func (s RenderState) IsTerminal() bool {
	return s == RenderStateSuccess || s == RenderStateFailure
}

// ParseRenderState converts a string to a RenderState
func ParseRenderState(str string) (RenderState, error) {
	switch RenderState(str) {
	case RenderStateUnstarted, RenderStateRunning, RenderStateSuccess, RenderStateFailure:
		return RenderState(str), nil
	default:
		return "", fmt.Errorf("invalid render state: %s", str)
	}
}

// UnmarshalJSON implements json.Unmarshaler for RenderState
func (s *RenderState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	state, err := ParseRenderState(str)
	if err != nil {
		return err
	}

	*s = state
	return nil
}

// Render is one attempt to convert a document's source into HTML.
type Render struct {
	ID         uint        `json:"id" gorm:"primarykey"`
	DocumentID uint        `json:"document_id" gorm:"not null;index"`
	CreatedAt  time.Time   `json:"created_at" gorm:"index"`
	UpdatedAt  time.Time   `json:"updated_at"`
	State      RenderState `json:"state" gorm:"not null;default:'unstarted';index"`
	// JobHandle identifies the container running this render.
	JobHandle string `json:"job_handle,omitempty"`
	// JobInspect is the last raw status snapshot reported by the backend.
	JobInspect json.RawMessage `json:"job_inspect,omitempty" gorm:"type:jsonb"`
	JobLogs    string          `json:"job_logs,omitempty" gorm:"type:text"`
	JobRemoved bool            `json:"job_removed" gorm:"not null;default:false;index"`
	IsExpired  bool            `json:"is_expired" gorm:"not null;default:false;index"`
	// IsDeleted is set once the output has been purged from storage.
	IsDeleted bool `json:"is_deleted" gorm:"not null;default:false;index"`

	Document *Document `json:"-" gorm:"foreignKey:DocumentID"`
}

// BeforeCreate is a GORM hook that runs before creating a new render
func (r *Render) BeforeCreate(_ *gorm.DB) error {
	if r.State == "" {
		r.State = RenderStateUnstarted
	}
	return nil
}

// OutputPath is the storage prefix of this render's output directory.
func (r *Render) OutputPath() string {
	return path.Join(RenderOutputRoot, fmt.Sprint(r.ID))
}

// HTMLPath is the storage key of the rendered document.
func (r *Render) HTMLPath() string {
	return path.Join(r.OutputPath(), "index.html")
}

// ShortJobHandle returns the abbreviated container id used in logs.
func (r *Render) ShortJobHandle() string {
	if len(r.JobHandle) > 12 {
		return r.JobHandle[:12]
	}
	return r.JobHandle
}
