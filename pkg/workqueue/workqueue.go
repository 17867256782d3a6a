// Package workqueue is the file-backed FIFO from spec.md §4.2: pending
// and processing directories, rename-based atomic claim, stale-claim
// reaping on dispatcher start.
//
// Grounded on the same atomic-rename idiom the teacher uses for its
// record.json writes (pkg/orchestration/state.go's writeAtomic), applied
// here to whole envelope files rather than a single record, since the
// teacher's single-process CLI has no multi-worker job queue of its own.
package workqueue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/grovepm/grove-team/internal/clog"
)

var log = clog.For("workqueue")

const defaultStaleClaimAge = 60 * time.Second

// Envelope is the small on-disk record for one queued job.
type Envelope struct {
	ID        string    `json:"id"`
	JobID     string    `json:"jobId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Queue is a work queue rooted at <state-root>/.queue.
type Queue struct {
	root string
}

func New(stateRoot string) *Queue {
	return &Queue{root: filepath.Join(stateRoot, ".queue")}
}

func (q *Queue) pendingDir() string    { return filepath.Join(q.root, "pending") }
func (q *Queue) processingDir() string { return filepath.Join(q.root, "processing") }

func (q *Queue) pendingPath(jobID string) string    { return filepath.Join(q.pendingDir(), jobID+".json") }
func (q *Queue) processingPath(jobID string) string { return filepath.Join(q.processingDir(), jobID+".json") }

// Enqueue writes a pending envelope for jobID, no-op if already
// pending or processing.
func (q *Queue) Enqueue(jobID string) error {
	if err := os.MkdirAll(q.pendingDir(), 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(q.processingDir(), 0o755); err != nil {
		return err
	}

	if _, err := os.Stat(q.pendingPath(jobID)); err == nil {
		return nil
	}
	if _, err := os.Stat(q.processingPath(jobID)); err == nil {
		return nil
	}

	env := Envelope{ID: jobID, JobID: jobID, CreatedAt: time.Now()}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	tmp := q.pendingPath(jobID) + ".tmp-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, q.pendingPath(jobID))
}

// Claim lists pending entries sorted by name and renames the first one
// it successfully moves into processing/. Returns "" if nothing is
// claimable.
func (q *Queue) Claim() (string, error) {
	entries, err := os.ReadDir(q.pendingDir())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		src := filepath.Join(q.pendingDir(), name)
		dst := filepath.Join(q.processingDir(), name)
		err := os.Rename(src, dst)
		if err == nil {
			return jobIDFromName(name), nil
		}
		if os.IsNotExist(err) {
			continue
		}
		return "", err
	}
	return "", nil
}

func jobIDFromName(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}

// ClearClaim removes the processing entry for jobID.
func (q *Queue) ClearClaim(jobID string) error {
	err := os.Remove(q.processingPath(jobID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ReapStaleClaims moves processing entries older than
// max(maxAge, 60s) back to pending, unless a pending entry for the same
// id already exists, in which case the stale processing entry is
// discarded. Called once on dispatcher start.
func (q *Queue) ReapStaleClaims(maxAge time.Duration) error {
	if maxAge < defaultStaleClaimAge {
		maxAge = defaultStaleClaimAge
	}

	entries, err := os.ReadDir(q.processingDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	now := time.Now()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= maxAge {
			continue
		}

		name := e.Name()
		jobID := jobIDFromName(name)
		src := filepath.Join(q.processingDir(), name)

		if _, err := os.Stat(q.pendingPath(jobID)); err == nil {
			log.WithField("job", jobID).Warn("discarding stale processing claim, pending entry already exists")
			os.Remove(src)
			continue
		}

		log.WithField("job", jobID).Warn("reaping stale processing claim back to pending")
		if err := os.Rename(src, q.pendingPath(jobID)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
