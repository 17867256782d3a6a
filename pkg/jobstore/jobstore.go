// Package jobstore is the durable job/state store from spec.md §4.1: a
// per-job record.json + append-only events.jsonl under an exclusive,
// stale-breaking .lock file.
//
// Grounded on the teacher's pkg/orchestration/state.go: writeAtomic
// (temp-file then rename), lockFile (exclusive create, stale-break on
// age, spin-retry), and the job.go record shape — generalized from a
// single markdown-frontmatter plan file to a JSON record plus a
// separate append-only event log, which the teacher's single-job model
// has no equivalent of.
package jobstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/grovepm/grove-team/internal/clog"
	"github.com/grovepm/grove-team/internal/errs"
	"github.com/grovepm/grove-team/pkg/team"
)

var log = clog.For("jobstore")

// JobStatus is the job-level lifecycle enum (spec.md §3).
type JobStatus string

const (
	JobQueued          JobStatus = "queued"
	JobRunning         JobStatus = "running"
	JobWaitingApproval JobStatus = "waiting_approval"
	JobSucceeded       JobStatus = "succeeded"
	JobFailed          JobStatus = "failed"
	JobCanceled        JobStatus = "canceled"
)

// ApprovalState is the approval sub-state (spec.md §3).
type ApprovalState string

const (
	ApprovalNone     ApprovalState = "none"
	ApprovalRequired ApprovalState = "required"
	ApprovalApproved ApprovalState = "approved"
	ApprovalRejected ApprovalState = "rejected"
)

// Options is the job's options bag (spec.md §3, §6).
type Options struct {
	Team              team.Run          `json:"team.state"`
	ParallelTasks     int               `json:"team.parallelTasks"`
	MaxFixAttempts    int               `json:"team.maxFixAttempts"`
	TmuxVisualization bool              `json:"team.tmuxVisualization"`
	TeamTasks         []map[string]any  `json:"team.teamTasks,omitempty"`
	AgentCommands     map[string]string `json:"agentCommands,omitempty"`
	RequireApproval   bool              `json:"requireApproval,omitempty"`
	MaxMinutes        int               `json:"maxMinutes,omitempty"`
	KeepTmuxSession   bool              `json:"keepTmuxSession,omitempty"`
}

// Record is the full Job record (spec.md §3) persisted as record.json.
type Record struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	Mode     string `json:"mode"`

	Repo string `json:"repo"`
	Ref  string `json:"ref"`
	Task string `json:"task"`

	Options Options `json:"options"`

	Status        JobStatus     `json:"status"`
	ApprovalState ApprovalState `json:"approvalState"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
	StartedAt     *time.Time    `json:"startedAt,omitempty"`
	FinishedAt    *time.Time    `json:"finishedAt,omitempty"`
	Error         string        `json:"error,omitempty"`
	Output        map[string]any `json:"output,omitempty"`
}

// Event is one append-only events.jsonl line (spec.md §3, §6).
type Event struct {
	V         int            `json:"v"`
	ID        string         `json:"id"`
	JobID     string         `json:"jobId"`
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Input is the create-job input (spec.md §6).
type Input struct {
	Provider string
	Mode     string
	Repo     string
	Ref      string
	Task     string
	Options  Options
}

// Store is the durable job/state store rooted at a state directory.
type Store struct {
	root string
}

func New(root string) *Store {
	return &Store{root: root}
}

func (s *Store) jobDir(jobID string) string {
	return filepath.Join(s.root, jobID)
}

func (s *Store) recordPath(jobID string) string {
	return filepath.Join(s.jobDir(jobID), "record.json")
}

func (s *Store) eventsPath(jobID string) string {
	return filepath.Join(s.jobDir(jobID), "events.jsonl")
}

func (s *Store) lockPath(jobID string) string {
	return filepath.Join(s.jobDir(jobID), ".lock")
}

// Create allocates a fresh opaque job id and writes a normalized record.
func (s *Store) Create(in Input) (*Record, error) {
	id := uuid.NewString()
	now := time.Now()

	repo := in.Repo
	if repo == "" {
		repo = "unknown"
	}
	ref := in.Ref
	if ref == "" {
		ref = "main"
	}

	rec := &Record{
		ID:            id,
		Provider:      in.Provider,
		Mode:          in.Mode,
		Repo:          repo,
		Ref:           ref,
		Task:          in.Task,
		Options:       in.Options,
		Status:        JobQueued,
		ApprovalState: ApprovalNone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if rec.ApprovalState == "" {
		rec.ApprovalState = ApprovalNone
	}

	if err := os.MkdirAll(s.jobDir(id), 0o755); err != nil {
		return nil, err
	}
	if err := writeAtomic(s.recordPath(id), rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Read loads the record for jobId, coercing unknown enum values and
// returning errs.NotFound when the file is absent or not a JSON object.
func (s *Store) Read(jobID string) (*Record, error) {
	data, err := os.ReadFile(s.recordPath(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Wrap(errs.NotFound, "job "+jobID)
		}
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errs.Wrap(errs.NotFound, "job "+jobID+" record is not a valid object")
	}

	rec.ID = jobID
	normalizeRecord(&rec)
	return &rec, nil
}

func normalizeRecord(rec *Record) {
	switch rec.Status {
	case JobQueued, JobRunning, JobWaitingApproval, JobSucceeded, JobFailed, JobCanceled:
	default:
		rec.Status = JobQueued
	}
	switch rec.ApprovalState {
	case ApprovalNone, ApprovalRequired, ApprovalApproved, ApprovalRejected:
	default:
		rec.ApprovalState = ApprovalNone
	}
}

// Patch is the set of top-level record fields Update may merge.
type Patch struct {
	Status        *JobStatus
	ApprovalState *ApprovalState
	Options       *Options
	StartedAt     *time.Time
	FinishedAt    *time.Time
	Error         *string
	ClearError    bool
	Output        map[string]any
}

// Update acquires the job lock, re-reads the current record, merges the
// patch, and writes via temp-file + rename. updatedAt always refreshes;
// createdAt is preserved.
func (s *Store) Update(jobID string, patch Patch) (*Record, error) {
	unlock, err := s.lock(jobID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := s.Read(jobID)
	if err != nil {
		return nil, err
	}

	if patch.Status != nil {
		rec.Status = *patch.Status
	}
	if patch.ApprovalState != nil {
		rec.ApprovalState = *patch.ApprovalState
	}
	if patch.Options != nil {
		rec.Options = *patch.Options
	}
	if patch.StartedAt != nil {
		rec.StartedAt = patch.StartedAt
	}
	if patch.FinishedAt != nil {
		rec.FinishedAt = patch.FinishedAt
	}
	if patch.ClearError {
		rec.Error = ""
	} else if patch.Error != nil {
		rec.Error = *patch.Error
	}
	if patch.Output != nil {
		rec.Output = patch.Output
	}

	rec.CreatedAt = rec.CreatedAt
	rec.UpdatedAt = time.Now()
	normalizeRecord(rec)

	if err := writeAtomic(s.recordPath(jobID), rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// AppendEvent appends one event line; no lock is taken (spec.md §4.1: "no
// lock" — the append is a single O_APPEND write, tolerant of concurrent
// appenders per spec.md §5).
func (s *Store) AppendEvent(jobID, typ, message string, payload map[string]any) error {
	if err := os.MkdirAll(s.jobDir(jobID), 0o755); err != nil {
		return err
	}

	ev := Event{
		V:         1,
		ID:        uuid.NewString(),
		JobID:     jobID,
		Type:      typ,
		Message:   message,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	f, err := os.OpenFile(s.eventsPath(jobID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(line)
	return err
}

// ListRecentEvents returns the last n parsed events, empty when the log
// is missing, propagating a parse error if any line is malformed.
func (s *Store) ListRecentEvents(jobID string, n int) ([]Event, error) {
	data, err := os.ReadFile(s.eventsPath(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var events []Event
	lines := splitLines(data)
	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, errs.Wrap(errs.ParseError, "job "+jobID+" events.jsonl")
		}
		events = append(events, ev)
	}

	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	return events, nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}

// writeAtomic writes v as JSON to a temp file alongside path, then
// renames it into place — the temp-file-then-rename idiom the teacher
// uses in pkg/orchestration/state.go's writeAtomic.
func writeAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

type lockHolder struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"startedAt"`
}

const (
	lockSpinInterval    = 25 * time.Millisecond
	lockStaleAge        = 30 * time.Second
	lockAcquireDeadline = 5 * time.Second
)

// lock acquires the per-job exclusive lock, spinning on contention and
// breaking a stale lock (holder older than 30s), per spec.md §4.1.
func (s *Store) lock(jobID string) (func(), error) {
	if err := os.MkdirAll(s.jobDir(jobID), 0o755); err != nil {
		return nil, err
	}
	path := s.lockPath(jobID)
	deadline := time.Now().Add(lockAcquireDeadline)

	for {
		holder := lockHolder{PID: os.Getpid(), StartedAt: time.Now()}
		data, _ := json.Marshal(holder)

		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			if _, werr := f.Write(data); werr != nil {
				f.Close()
				os.Remove(path)
				return nil, werr
			}
			f.Close()
			return func() { os.Remove(path) }, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}

		if breakStaleLock(path) {
			continue
		}

		if time.Now().After(deadline) {
			return nil, errs.Wrap(errs.LockTimeout, "job "+jobID)
		}
		time.Sleep(lockSpinInterval)
	}
}

func breakStaleLock(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return os.IsNotExist(err)
	}
	var holder lockHolder
	if err := json.Unmarshal(data, &holder); err != nil {
		log.WithField("lock", path).Warn("removing unreadable lock file")
		return os.Remove(path) == nil
	}
	if time.Since(holder.StartedAt) > lockStaleAge {
		log.WithField("lock", path).Warn("breaking stale lock")
		return os.Remove(path) == nil
	}
	return false
}
