package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LogLevel represents the severity of a job log entry.
type LogLevel string

// Possible log levels
const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// Log entry validation errors, wrapping ErrValidation like the job
// sentinels above it in the package.
var (
	// ErrLogEntryIDEmpty is returned when a log entry ID is empty or nil.
	ErrLogEntryIDEmpty = fmt.Errorf("%w: log entry ID cannot be empty", ErrValidation)

	// ErrLogEntryJobIDEmpty is returned when a log entry's job ID is empty or nil.
	ErrLogEntryJobIDEmpty = fmt.Errorf("%w: log entry job ID cannot be empty", ErrValidation)

	// ErrLogEntryMessageEmpty is returned when a log entry's message is empty.
	ErrLogEntryMessageEmpty = fmt.Errorf("%w: log entry message cannot be empty", ErrValidation)

	// ErrInvalidLogLevel is returned when a log level is not valid.
	ErrInvalidLogLevel = fmt.Errorf("%w: invalid log level", ErrValidation)

	// ErrLogEntryMetadataInvalid is returned when metadata is not valid JSON.
	ErrLogEntryMetadataInvalid = fmt.Errorf("%w: log entry metadata must be valid JSON", ErrValidation)
)

// JobLogEntry is one append-only execution log record attached to a job.
// Entries are never updated or individually deleted; retention removes them
// only together with their parent job.
type JobLogEntry struct {
	ID        uuid.UUID       `json:"id"`
	JobID     uuid.UUID       `json:"job_id"`
	Level     LogLevel        `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewJobLogEntry creates a new log entry for the given job.
// It generates a new UUID and sets the creation timestamp.
// Nil metadata is allowed and stored as absent.
// Returns an error if validation fails.
func NewJobLogEntry(jobID uuid.UUID, level LogLevel, message string, metadata json.RawMessage) (*JobLogEntry, error) {
	entry := &JobLogEntry{
		ID:        uuid.New(),
		JobID:     jobID,
		Level:     level,
		Message:   message,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}

	if err := entry.Validate(); err != nil {
		return nil, err
	}

	return entry, nil
}

// Validate checks if the JobLogEntry has valid data.
// Returns an error if any field fails validation.
func (e *JobLogEntry) Validate() error {
	if e.ID == uuid.Nil {
		return ErrLogEntryIDEmpty
	}

	if e.JobID == uuid.Nil {
		return ErrLogEntryJobIDEmpty
	}

	if e.Message == "" {
		return ErrLogEntryMessageEmpty
	}

	if !isValidLogLevel(e.Level) {
		return ErrInvalidLogLevel
	}

	if len(e.Metadata) > 0 {
		var js json.RawMessage
		if err := json.Unmarshal(e.Metadata, &js); err != nil {
			return ErrLogEntryMetadataInvalid
		}
	}

	return nil
}

// isValidLogLevel checks if the given level is a valid LogLevel.
func isValidLogLevel(level LogLevel) bool {
	switch level {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		return true
	default:
		return false
	}
}
