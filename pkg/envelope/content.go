package envelope

import (
	"fmt"
	"time"
)

// MessageType identifies the shape of an envelope's content payload.
type MessageType string

const (
	TypeQuery        MessageType = "query"
	TypeResponse     MessageType = "response"
	TypeNotification MessageType = "notification"
	TypeStatus       MessageType = "status"
	TypeError        MessageType = "error"
	TypeTask         MessageType = "task"
	TypeResult       MessageType = "result"
	TypeMemory       MessageType = "memory"
	TypeWorkflow     MessageType = "workflow"
)

// Content is the closed set of payload variants an envelope can carry. The
// envelope's MessageType is always derived from the concrete variant, so an
// envelope can never be constructed with a type/content mismatch.
type Content interface {
	messageType() MessageType
}

// Query asks another agent a question.
type Query struct {
	Query   string         `json:"query"`
	Context map[string]any `json:"context,omitempty"`
}

// Response answers a Query.
type Response struct {
	Response   string         `json:"response"`
	Confidence float64        `json:"confidence,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Notification is a one-way event announcement.
type Notification struct {
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Status reports an agent's current state.
type Status struct {
	State  string `json:"state"`
	Detail string `json:"detail,omitempty"`
}

// ErrorReport communicates a failure to another agent.
type ErrorReport struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// Task asks another agent to perform a unit of work.
type Task struct {
	TaskType   string         `json:"task_type"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Priority   int            `json:"priority,omitempty"`
	Deadline   *time.Time     `json:"deadline,omitempty"`
}

// Result reports the outcome of a Task.
type Result struct {
	Result  map[string]any     `json:"result,omitempty"`
	Success bool               `json:"success"`
	Error   string             `json:"error,omitempty"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// MemoryOperation requests a memory store action on behalf of the sender.
type MemoryOperation struct {
	Operation string         `json:"operation"`
	Key       string         `json:"key"`
	Value     any            `json:"value,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// WorkflowEvent records a workflow state transition.
type WorkflowEvent struct {
	WorkflowID string         `json:"workflow_id"`
	State      string         `json:"state"`
	Transition string         `json:"transition,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

func (Query) messageType() MessageType           { return TypeQuery }
func (Response) messageType() MessageType        { return TypeResponse }
func (Notification) messageType() MessageType    { return TypeNotification }
func (Status) messageType() MessageType          { return TypeStatus }
func (ErrorReport) messageType() MessageType     { return TypeError }
func (Task) messageType() MessageType            { return TypeTask }
func (Result) messageType() MessageType          { return TypeResult }
func (MemoryOperation) messageType() MessageType { return TypeMemory }
func (WorkflowEvent) messageType() MessageType   { return TypeWorkflow }

// TypeOf returns the MessageType matching a content variant.
func TypeOf(c Content) MessageType {
	return c.messageType()
}

// emptyContent returns a zero value of the variant matching t, used by the
// JSON codec to decode the content field.
func emptyContent(t MessageType) (Content, error) {
	switch t {
	case TypeQuery:
		return Query{}, nil
	case TypeResponse:
		return Response{}, nil
	case TypeNotification:
		return Notification{}, nil
	case TypeStatus:
		return Status{}, nil
	case TypeError:
		return ErrorReport{}, nil
	case TypeTask:
		return Task{}, nil
	case TypeResult:
		return Result{}, nil
	case TypeMemory:
		return MemoryOperation{}, nil
	case TypeWorkflow:
		return WorkflowEvent{}, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", t)
	}
}
