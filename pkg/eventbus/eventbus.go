// Package eventbus optionally fans the task event stream out to external
// subscribers over NATS, one subject per repo, so an operator dashboard or
// a downstream automation can watch the orchestrator without polling the
// store directly. Publishing is best-effort: a disconnected or absent NATS
// server never blocks or fails task processing.
package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/othala-run/othala/pkg/task"
)

// Config controls whether the bus is enabled and where it connects.
type Config struct {
	Enabled        bool
	URL            string
	SubjectPrefix  string
	ConnectTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:            nats.DefaultURL,
		SubjectPrefix:  "othala.events",
		ConnectTimeout: 5 * time.Second,
	}
}

// Bus publishes task events to NATS subjects scoped by repo ID.
type Bus struct {
	cfg  Config
	conn *nats.Conn
}

// Connect dials NATS per cfg. If cfg.Enabled is false, Connect returns a
// Bus with no live connection whose Publish calls are no-ops — callers
// never need to branch on whether the bus is configured.
func Connect(cfg Config) (*Bus, error) {
	if !cfg.Enabled {
		return &Bus{cfg: cfg}, nil
	}
	conn, err := nats.Connect(cfg.URL, nats.Timeout(cfg.ConnectTimeout))
	if err != nil {
		return nil, fmt.Errorf("eventbus: connect: %w", err)
	}
	return &Bus{cfg: cfg, conn: conn}, nil
}

// Close closes the underlying connection, if any.
func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

func (b *Bus) subjectFor(repoID string) string {
	return b.cfg.SubjectPrefix + "." + repoID
}

// Envelope is the wire shape published for every task event.
type Envelope struct {
	RepoID string        `json:"repo_id"`
	TaskID string        `json:"task_id,omitempty"`
	Kind   task.EventKind `json:"kind"`
	At     time.Time     `json:"at"`
}

// PublishEvent publishes a task event to its repo's subject. A nil
// connection (bus disabled, or cfg.Enabled false) is a silent no-op.
func (b *Bus) PublishEvent(repoID string, e task.Event) error {
	if b.conn == nil {
		return nil
	}
	var taskID string
	if e.TaskID != nil {
		taskID = *e.TaskID
	}
	env := Envelope{
		RepoID: repoID,
		TaskID: taskID,
		Kind:   e.Kind,
		At:     e.At,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("eventbus: marshal event: %w", err)
	}
	if err := b.conn.Publish(b.subjectFor(repoID), data); err != nil {
		return fmt.Errorf("eventbus: publish: %w", err)
	}
	return nil
}

// Subscribe registers handler for every event published under repoID's
// subject, returning an unsubscribe function. Subscribing on a disabled
// bus returns a no-op unsubscribe and never calls handler.
func (b *Bus) Subscribe(repoID string, handler func(Envelope)) (func() error, error) {
	if b.conn == nil {
		return func() error { return nil }, nil
	}
	sub, err := b.conn.Subscribe(b.subjectFor(repoID), func(msg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			return
		}
		handler(env)
	})
	if err != nil {
		return nil, fmt.Errorf("eventbus: subscribe: %w", err)
	}
	return sub.Unsubscribe, nil
}
