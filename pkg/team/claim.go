package team

import (
	"time"

	"github.com/google/uuid"

	"github.com/grovepm/grove-team/internal/clog"
)

var claimLog = clog.For("claim")

// ClaimPolicy bundles the tunables from spec.md §4.3's defaults.
type ClaimPolicy struct {
	ClaimTTL          time.Duration
	LeaseSlack        time.Duration
	HeartbeatInterval time.Duration
	NonReportingGrace time.Duration
}

// DefaultClaimPolicy matches spec.md §4.3's stated defaults.
func DefaultClaimPolicy() ClaimPolicy {
	return ClaimPolicy{
		ClaimTTL:          60 * time.Second,
		LeaseSlack:        15 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		NonReportingGrace: 30 * time.Second,
	}
}

// IssueClaim claims a task for workerID: fresh token, claimExpiresAt = now +
// claimTTL + leaseSlack, lastHeartbeatAt = now.
//
// Grounded on the stale-lock-breaking idiom in the teacher's
// pkg/orchestration/state.go (lockFile: a lock older than 5 minutes is
// considered stale and removed) and the timeout/retry shape of
// pkg/orchestration/oneshot_executor.go's ExecutorConfig — generalized
// from a single file lock to a per-task claim with heartbeat refresh,
// which the teacher (a single-worker CLI) has no equivalent of.
func IssueClaim(t *Task, workerID string, now time.Time, p ClaimPolicy) {
	t.WorkerID = workerID
	t.ClaimToken = uuid.NewString()
	expires := now.Add(p.ClaimTTL).Add(p.LeaseSlack)
	t.ClaimExpiresAt = &expires
	hb := now
	t.LastHeartbeatAt = &hb
}

// HeartbeatClaim refreshes the lease for a task this worker still owns. It
// is a no-op for tasks owned by a different worker id (spec.md §4.3: "this
// permits honest multi-orchestrator coexistence on the same state root").
func HeartbeatClaim(t *Task, workerID string, now time.Time, p ClaimPolicy) {
	if t.WorkerID != workerID {
		return
	}
	hb := now
	t.LastHeartbeatAt = &hb
	expires := now.Add(p.ClaimTTL).Add(p.LeaseSlack)
	t.ClaimExpiresAt = &expires
}

func claimGraceWindow(p ClaimPolicy) time.Duration {
	g := p.NonReportingGrace
	if hb3 := p.HeartbeatInterval * 3; hb3 > g {
		g = hb3
	}
	return g
}

// IsClaimExpired implements isClaimExpired from spec.md §4.3.
func IsClaimExpired(t *Task, now time.Time, p ClaimPolicy) bool {
	if t.Status != TaskRunning {
		return false
	}
	if t.ClaimExpiresAt == nil || t.LastHeartbeatAt == nil {
		return true
	}
	if !t.ClaimExpiresAt.After(now) {
		return true
	}
	if now.Sub(*t.LastHeartbeatAt) > claimGraceWindow(p) {
		return true
	}
	return false
}

// IsNonReporting implements isNonReporting from spec.md §4.3.
func IsNonReporting(t *Task, now time.Time, p ClaimPolicy) bool {
	if t.Status != TaskRunning {
		return false
	}
	if t.LastHeartbeatAt == nil {
		return true
	}
	return now.Sub(*t.LastHeartbeatAt) > claimGraceWindow(p)
}

// ReclaimTask clears a task's claim fields and appends the reclaim reason to
// its error string, returning it to queued (deps permitting) or blocked —
// the caller re-evaluates readiness on the next scheduler pass.
func ReclaimTask(t *Task, reason string, depsReady bool) {
	claimLog.WithFields(map[string]interface{}{"task": t.ID, "reason": reason}).Warn("reclaiming task")

	t.WorkerID = ""
	t.ClaimToken = ""
	t.ClaimExpiresAt = nil
	t.LastHeartbeatAt = nil

	if t.Error == "" {
		t.Error = reason
	} else {
		t.Error = t.Error + "; " + reason
	}

	if depsReady {
		t.Status = TaskQueued
	} else {
		t.Status = TaskBlocked
	}
}
