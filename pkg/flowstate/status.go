package flowstate

import "strings"

// StatusType classifies the outcome of a pipeline stage.
type StatusType int

const (
	StatusSuccess StatusType = iota
	StatusWarning
	StatusError
	StatusPending
)

func (t StatusType) String() string {
	switch t {
	case StatusSuccess:
		return "success"
	case StatusWarning:
		return "warning"
	case StatusError:
		return "error"
	case StatusPending:
		return "pending"
	default:
		return "unknown"
	}
}

// Status is the outcome reported by a pipeline stage.
type Status struct {
	Type StatusType
	Text string
}

// Success is the default status.
var Success = Status{Type: StatusSuccess}

// NewStatus creates a status.
func NewStatus(t StatusType, text string) Status {
	return Status{Type: t, Text: text}
}

// ErrorStatus turns an error into an Error status.
func ErrorStatus(err error) Status {
	if err == nil {
		return Status{Type: StatusError}
	}
	return Status{Type: StatusError, Text: err.Error()}
}

// IsError reports whether the status type is Error.
func (s Status) IsError() bool { return s.Type == StatusError }

// IsSuccess reports whether the status type is Success.
func (s Status) IsSuccess() bool { return s.Type == StatusSuccess }

// Merge folds other into s. The type of other wins if s is Success or other
// is an Error; texts are joined line by line.
func (s Status) Merge(other Status) Status {
	out := s
	if s.Type == StatusSuccess || other.Type == StatusError {
		out.Type = other.Type
	}
	if other.Text != "" {
		if out.Text == "" {
			out.Text = other.Text
		} else {
			out.Text = strings.Join([]string{out.Text, other.Text}, "\n")
		}
	}
	return out
}

func (s Status) String() string {
	if s.Text == "" {
		return s.Type.String()
	}
	return s.Type.String() + ": " + s.Text
}
