// Package notify maps the fixed whitelist of operator-relevant task events
// to notification messages and dispatches them to one or more sinks. Most
// events never notify; only the whitelist in spec.md §4.8 does.
package notify

import (
	"fmt"

	"github.com/othala-run/othala/pkg/task"
)

// Topic is the closed set of reasons a notification is sent.
type Topic string

const (
	TopicVerifyFailed    Topic = "verify_failed"
	TopicReadyReached    Topic = "ready_reached"
	TopicNeedsHuman      Topic = "needs_human"
	TopicSubmitCompleted Topic = "submit_completed"
	TopicError           Topic = "error"
)

// Message is one notification ready to hand to a sink.
type Message struct {
	Topic   Topic
	TaskID  string
	RepoID  string
	Summary string
}

// ForEvent maps an event to a notification message, or returns ok=false if
// the event's kind is not on the whitelist. Pure function — callers decide
// whether and where to send the result.
func ForEvent(e task.Event) (Message, bool) {
	taskID := ""
	if e.TaskID != nil {
		taskID = *e.TaskID
	}
	repoID := ""
	if e.RepoID != nil {
		repoID = *e.RepoID
	}

	switch e.Kind.Tag {
	case task.EventVerifyCompleted:
		if e.Kind.Success {
			return Message{}, false
		}
		return Message{
			Topic:   TopicVerifyFailed,
			TaskID:  taskID,
			RepoID:  repoID,
			Summary: fmt.Sprintf("verification failed (%s tier)", e.Kind.Tier),
		}, true

	case task.EventReadyReached:
		return Message{
			Topic:   TopicReadyReached,
			TaskID:  taskID,
			RepoID:  repoID,
			Summary: "task is ready to submit",
		}, true

	case task.EventNeedsHuman:
		return Message{
			Topic:   TopicNeedsHuman,
			TaskID:  taskID,
			RepoID:  repoID,
			Summary: e.Kind.Reason,
		}, true

	case task.EventSubmitCompleted:
		return Message{
			Topic:   TopicSubmitCompleted,
			TaskID:  taskID,
			RepoID:  repoID,
			Summary: "submit completed",
		}, true

	case task.EventError:
		return Message{
			Topic:   TopicError,
			TaskID:  taskID,
			RepoID:  repoID,
			Summary: fmt.Sprintf("%s: %s", e.Kind.Code, e.Kind.Message),
		}, true

	default:
		return Message{}, false
	}
}

// Sink delivers a Message to an external channel (Slack, logs, ...).
type Sink interface {
	Name() string
	Send(msg Message) error
}

// Dispatcher fans a Message out to every configured sink. A sink error
// never stops delivery to the remaining sinks, matching spec.md §4.8's
// "dispatch any mapped notification" step — notification failures must not
// roll back the state mutation that produced the event.
type Dispatcher struct {
	sinks []Sink
}

// NewDispatcher constructs a Dispatcher over the given sinks.
func NewDispatcher(sinks ...Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks}
}

// DispatchErrors collects one error per sink that failed, keyed by sink name.
type DispatchErrors map[string]error

func (e DispatchErrors) Error() string {
	return fmt.Sprintf("notify: %d sink(s) failed", len(e))
}

// DispatchEvent looks up the notification for e and, if whitelisted, sends
// it to every sink. Returns nil if the event is not whitelisted or if every
// sink succeeded.
func (d *Dispatcher) DispatchEvent(e task.Event) error {
	msg, ok := ForEvent(e)
	if !ok {
		return nil
	}
	return d.Dispatch(msg)
}

// Dispatch sends msg to every configured sink, collecting per-sink errors.
func (d *Dispatcher) Dispatch(msg Message) error {
	var errs DispatchErrors
	for _, s := range d.sinks {
		if err := s.Send(msg); err != nil {
			if errs == nil {
				errs = make(DispatchErrors)
			}
			errs[s.Name()] = err
		}
	}
	if errs == nil {
		return nil
	}
	return errs
}
