package activity

import (
	"errors"
	"strings"
	"time"
)

type Category string

const (
	CategorySecurity   Category = "SECURITY"
	CategoryDevice     Category = "DEVICE"
	CategoryNavigation Category = "NAVIGATION"
	CategoryData       Category = "DATA"
	CategorySystem     Category = "SYSTEM"
)

type Action string

const (
	ActionLogin  Action = "LOGIN"
	ActionLogout Action = "LOGOUT"
	ActionView   Action = "VIEW"
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
	ActionExport Action = "EXPORT"
)

type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

var ErrMalformedRecord = errors.New("activity: malformed record")

// LogRecord is one user activity or audit event bound for the backend.
type LogRecord struct {
	ID            string         `json:"id"`
	Action        Action         `json:"action"`
	Category      Category       `json:"category"`
	Resource      string         `json:"resource,omitempty"`
	Description   string         `json:"description,omitempty"`
	ActorID       string         `json:"actorId,omitempty"`
	ActorName     string         `json:"actorName,omitempty"`
	ActorEmail    string         `json:"actorEmail,omitempty"`
	SourceAddress string         `json:"sourceAddress,omitempty"`
	AgentString   string         `json:"agentString,omitempty"`
	Status        Status         `json:"status"`
	Timestamp     time.Time      `json:"timestamp"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// normalize upper-cases the enumerations and fills defaults. It only rejects
// records without an action; everything else is shipped as given.
func (r *LogRecord) normalize(now time.Time) error {
	r.Action = Action(strings.ToUpper(strings.TrimSpace(string(r.Action))))
	r.Category = Category(strings.ToUpper(strings.TrimSpace(string(r.Category))))
	r.Status = Status(strings.ToUpper(strings.TrimSpace(string(r.Status))))

	if r.Action == "" {
		return ErrMalformedRecord
	}
	if r.Category == "" {
		r.Category = CategorySystem
	}
	if r.Status == "" {
		r.Status = StatusSuccess
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = now
	}
	return nil
}
