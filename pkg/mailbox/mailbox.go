// Package mailbox implements the inter-agent channel from spec.md §4.6:
// normalization, ascending-createdAt ordering, per-kind delivery
// handlers, at-most-once delivery.
//
// Grounded on the teacher's hooks.go event-dispatch-by-kind pattern
// (pkg/orchestration/hooks.go's dispatch over a closed set of hook
// kinds), generalized here to task-mutating delivery for the `reassign`
// kind, which the teacher's hook system never mutates job state for.
package mailbox

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/grovepm/grove-team/internal/clog"
	"github.com/grovepm/grove-team/pkg/team"
)

var log = clog.For("mailbox")

var allowedKinds = map[team.MailboxKind]bool{
	team.MailQuestion:    true,
	team.MailInstruction: true,
	team.MailNotice:      true,
	team.MailReassign:    true,
}

// EventSink receives the events delivery emits; the engine wires this to
// jobstore.AppendEvent.
type EventSink func(typ, message string, payload map[string]any)

// Normalize discards entries with a disallowed kind or empty message
// text, coerces missing ids/timestamps, defaults an empty `to` to
// ["leader"], and re-sorts ascending by createdAt. Entries of a non-empty
// `to` are kept as given; they are not checked against the role set.
// Called on every read, per spec.md §4.6.
func Normalize(messages []*team.Message) []*team.Message {
	out := make([]*team.Message, 0, len(messages))
	for _, m := range messages {
		if !allowedKinds[m.Kind] {
			continue
		}
		if m.Text == "" {
			continue
		}
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now()
		}
		m.To = normalizeTo(m.To)
		out = append(out, m)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func normalizeTo(to []string) []string {
	if len(to) == 0 {
		return []string{"leader"}
	}
	return to
}

// Deliver processes every undelivered message in createdAt order, then
// marks all originally-undelivered messages delivered=true,
// deliveredAt=now. Handler failures never revert the flag — delivery is
// best-effort.
func Deliver(run *team.Run, now time.Time, emit EventSink) {
	run.Mailbox = Normalize(run.Mailbox)

	var pending []*team.Message
	for _, m := range run.Mailbox {
		if !m.Delivered {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		return
	}

	for _, m := range pending {
		switch m.Kind {
		case team.MailReassign:
			deliverReassign(run, m, emit)
		case team.MailQuestion, team.MailInstruction, team.MailNotice:
			deliverGeneric(m, emit)
		}
	}

	for _, m := range pending {
		m.Delivered = true
		ts := now
		m.DeliveredAt = &ts
	}
}

func deliverReassign(run *team.Run, m *team.Message, emit EventSink) {
	t := run.TaskByID(m.TaskID)
	if t == nil {
		log.WithField("taskId", m.TaskID).Warn("reassign message targets unknown task")
		return
	}

	depsReady := true
	byID := make(map[string]*team.Task, len(run.Tasks))
	for _, other := range run.Tasks {
		byID[other.ID] = other
	}
	for _, depID := range t.Dependencies {
		dep, ok := byID[depID]
		if !ok || dep.Status != team.TaskSucceeded {
			depsReady = false
			break
		}
	}

	if depsReady {
		t.Status = team.TaskQueued
	} else {
		t.Status = team.TaskBlocked
	}
	t.Attempt = 0
	t.WorkerID = ""
	t.ClaimToken = ""
	t.ClaimExpiresAt = nil
	t.LastHeartbeatAt = nil
	t.Error = fmt.Sprintf("Task re-assigned by mail instruction: %s", m.Text)

	emit("team.task.reassigned", t.Error, map[string]any{"taskId": t.ID})
}

func deliverGeneric(m *team.Message, emit EventSink) {
	emit("team.mailbox."+string(m.Kind), m.Text, map[string]any{"messageId": m.ID, "taskId": m.TaskID})
}
