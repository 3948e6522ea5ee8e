package databot

import (
	"time"

	"github.com/Guliveer/databot/internal/failure"
)

// Status is a point-in-time view of a DataBot.
type Status struct {
	ID                   string    `json:"id"`
	State                string    `json:"state"`
	StartedAt            time.Time `json:"started_at,omitempty"`
	Interval             string    `json:"interval"`
	Executions           int64     `json:"executions"`
	SuccessfulExecutions int64     `json:"successful_executions"`
	MaxExecutions        int64     `json:"max_executions,omitempty"`
	LastFailure          string    `json:"last_failure,omitempty"`
	LastFailureKind      string    `json:"last_failure_kind,omitempty"`
	QueueLength          int       `json:"queue_length"`
	QueueCapacity        int       `json:"queue_capacity"`
	Sources              []string  `json:"sources"`
	Consumers            []string  `json:"consumers"`
}

// Status returns the current status.
func (d *DataBot) Status() Status {
	d.mu.Lock()
	startedAt := d.startedAt
	d.mu.Unlock()

	s := Status{
		ID:                   d.id,
		State:                d.lifecycle.Current(),
		StartedAt:            startedAt,
		Interval:             d.scheduler.Interval().String(),
		Executions:           d.task.ExecutionCount(),
		SuccessfulExecutions: d.task.SuccessfulExecutionCount(),
		QueueLength:          d.queue.Len(),
		QueueCapacity:        d.queue.Cap(),
		Sources:              make([]string, 0, len(d.addresses)),
		Consumers:            make([]string, 0, len(d.handlers)),
	}
	if n, ok := d.task.MaxExecutions(); ok {
		s.MaxExecutions = n
	}
	if err := d.task.CauseOfLastFailure(); err != nil {
		s.LastFailure = err.Error()
		s.LastFailureKind = string(failure.KindOf(err))
	}
	for _, a := range d.addresses {
		s.Sources = append(s.Sources, a.Literal())
	}
	for _, h := range d.handlers {
		s.Consumers = append(s.Consumers, h.Name())
	}
	return s
}
