package backend

import "github.com/kalambet/intelwatch/internal/event"

// Request is the research submission body.
type Request struct {
	Company         string `json:"company" validate:"required,max=200"`
	CompanyURL      string `json:"company_url,omitempty" validate:"omitempty,url"`
	Industry        string `json:"industry,omitempty" validate:"omitempty,max=200"`
	HQLocation      string `json:"hq_location,omitempty" validate:"omitempty,max=200"`
	HelpDescription string `json:"help_description,omitempty" validate:"omitempty,max=2000"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

// StatusDocument is the polled job status. Raw keeps the undecoded body so
// callers can classify it with the same rules as pushed frames.
type StatusDocument struct {
	event.StatusEvent
	Raw []byte `json:"-"`
}

// Health is the backend liveness document.
type Health struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}
