// Package cron manages scheduled agent jobs persisted to a jobs.json store:
//
//	{ "version": 1, "jobs": [ { "id":"…", "name":"…", "enabled":true,
//	    "schedule":{"kind":"every","everyMs":…},
//	    "payload":{"kind":"agent_turn","message":"…","deliver":false},
//	    "state":{"nextRunAtMs":…,"lastRunAtMs":…,"lastStatus":"ok"},
//	    "createdAtMs":…, "updatedAtMs":…, "deleteAfterRun":false } ] }
package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	robfigcron "github.com/robfig/cron/v3"

	"github.com/ambergull/ambergull/internal/schema"
)

// --------------------------------------------------------------------------
// Data types
// --------------------------------------------------------------------------

type CronSchedule struct {
	Kind    string  `json:"kind"`              // "every" | "cron" | "at"
	AtMs    *int64  `json:"atMs,omitempty"`    // one-time
	EveryMs *int64  `json:"everyMs,omitempty"` // interval
	Expr    *string `json:"expr,omitempty"`    // five-field cron expression
	TZ      *string `json:"tz,omitempty"`      // IANA timezone
}

type CronPayload struct {
	Kind     string         `json:"kind"` // "system_event" | "tool_call" | "agent_turn"
	Message  string         `json:"message"`
	Deliver  bool           `json:"deliver"`
	Channel  *string        `json:"channel,omitempty"`
	To       *string        `json:"to,omitempty"`
	ToolName string         `json:"toolName,omitempty"`
	ToolArgs map[string]any `json:"toolArgs,omitempty"`
}

type CronJobState struct {
	NextRunAtMs *int64  `json:"nextRunAtMs,omitempty"`
	LastRunAtMs *int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  *string `json:"lastStatus,omitempty"`
	LastError   *string `json:"lastError,omitempty"`
	LastResult  *string `json:"lastResult,omitempty"`
}

type CronJob struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Enabled        bool         `json:"enabled"`
	Schedule       CronSchedule `json:"schedule"`
	Payload        CronPayload  `json:"payload"`
	State          CronJobState `json:"state"`
	CreatedAtMs    int64        `json:"createdAtMs"`
	UpdatedAtMs    int64        `json:"updatedAtMs"`
	DeleteAfterRun bool         `json:"deleteAfterRun"`
}

type cronStore struct {
	Version int       `json:"version"`
	Jobs    []CronJob `json:"jobs"`
}

// fiveField parses standard minute-granularity cron expressions.
var fiveField = robfigcron.NewParser(
	robfigcron.Minute | robfigcron.Hour | robfigcron.Dom | robfigcron.Month | robfigcron.Dow,
)

// --------------------------------------------------------------------------
// Service
// --------------------------------------------------------------------------

// OnJobFunc is called when a job fires. It returns the result text recorded
// in the job state.
type OnJobFunc func(ctx context.Context, job CronJob) (string, error)

// Service manages scheduled jobs. It implements schema.CronService so it can
// back the cron tool.
type Service struct {
	storePath string
	onJob     OnJobFunc

	mu    sync.Mutex
	store cronStore

	// Active timers / cron entries keyed by job ID.
	timers    map[string]*time.Timer
	robfig    *robfigcron.Cron
	robfigIDs map[string]robfigcron.EntryID
}

// NewService creates a cron service persisting to storePath
// (e.g. ~/.ambergull/cron/jobs.json).
func NewService(storePath string) *Service {
	return &Service{
		storePath: storePath,
		timers:    make(map[string]*time.Timer),
		robfig:    robfigcron.New(robfigcron.WithSeconds()),
		robfigIDs: make(map[string]robfigcron.EntryID),
	}
}

// SetOnJob registers the callback executed when a job fires.
// Must be set before Start().
func (s *Service) SetOnJob(fn OnJobFunc) { s.onJob = fn }

// Start loads jobs from disk, fires any runs missed while the process was
// down, arms all timers, and blocks until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if err := s.loadLocked(); err != nil {
		slog.Warn("cron: load failed, starting empty", "err", err)
	}
	missed := s.collectDueLocked(nowMs())
	s.mu.Unlock()

	for _, job := range missed {
		slog.Info("cron: recovering missed run", "name", job.Name, "id", job.ID)
		s.executeJob(ctx, job)
	}

	s.mu.Lock()
	s.recomputeNextRunsLocked()
	s.saveLocked()
	s.armAllLocked(ctx)
	s.mu.Unlock()

	s.robfig.Start()
	slog.Info("cron: started", "jobs", len(s.store.Jobs))

	<-ctx.Done()

	<-s.robfig.Stop().Done()
	s.mu.Lock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.mu.Unlock()
	return ctx.Err()
}

// AddJob validates and adds a new job, saves it, and returns its id.
// Implements schema.CronService.
func (s *Service) AddJob(
	name, message, payloadKind, kind string,
	everyMs int64, cronExpr, tz string, atMs int64,
	deliver bool, channel, to string, deleteAfterRun bool,
) (string, error) {
	sched := CronSchedule{Kind: kind}
	switch kind {
	case "every":
		if everyMs <= 0 {
			return "", fmt.Errorf("every interval must be positive")
		}
		sched.EveryMs = &everyMs
	case "cron":
		if _, err := fiveField.Parse(cronExpr); err != nil {
			return "", fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
		}
		sched.Expr = &cronExpr
		if tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return "", fmt.Errorf("unknown timezone '%s'", tz)
			}
			sched.TZ = &tz
		}
	case "at":
		if atMs <= nowMs() {
			return "", fmt.Errorf("scheduled time is in the past")
		}
		sched.AtMs = &atMs
	default:
		return "", fmt.Errorf("unknown schedule kind %q", kind)
	}

	switch payloadKind {
	case "":
		payloadKind = "agent_turn"
	case "system_event", "tool_call", "agent_turn":
	default:
		return "", fmt.Errorf("unknown payload kind %q", payloadKind)
	}

	payload := CronPayload{
		Kind:    payloadKind,
		Message: message,
		Deliver: deliver,
	}
	if channel != "" {
		payload.Channel = &channel
	}
	if to != "" {
		payload.To = &to
	}

	now := nowMs()
	id := shortID()
	job := CronJob{
		ID:             id,
		Name:           name,
		Enabled:        true,
		Schedule:       sched,
		Payload:        payload,
		State:          CronJobState{NextRunAtMs: computeNextRun(sched, nil, now)},
		CreatedAtMs:    now,
		UpdatedAtMs:    now,
		DeleteAfterRun: deleteAfterRun,
	}

	s.mu.Lock()
	s.store.Jobs = append(s.store.Jobs, job)
	s.saveLocked()
	s.mu.Unlock()

	slog.Info("cron: added job", "name", name, "id", id, "kind", kind)
	return id, nil
}

// ListJobs returns summaries of jobs; includeDisabled controls visibility.
// Implements schema.CronService.
func (s *Service) ListJobs(includeDisabled bool) []schema.CronJobSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.loadLocked()
	var out []schema.CronJobSummary
	for _, j := range s.store.Jobs {
		if !includeDisabled && !j.Enabled {
			continue
		}
		out = append(out, schema.CronJobSummary{
			ID: j.ID, Name: j.Name, Kind: j.Schedule.Kind, Enabled: j.Enabled,
		})
	}
	return out
}

// RemoveJob removes a job by ID and returns true if found.
// Implements schema.CronService.
func (s *Service) RemoveJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.store.Jobs)
	filtered := s.store.Jobs[:0]
	for _, j := range s.store.Jobs {
		if j.ID != id {
			filtered = append(filtered, j)
		}
	}
	s.store.Jobs = filtered
	if len(filtered) < before {
		s.cancelTimerLocked(id)
		s.saveLocked()
		return true
	}
	return false
}

// EnableJob enables or disables a job; returns false when the job is unknown.
// Implements schema.CronService.
func (s *Service) EnableJob(id string, enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.store.Jobs {
		if s.store.Jobs[i].ID != id {
			continue
		}
		s.store.Jobs[i].Enabled = enabled
		s.store.Jobs[i].UpdatedAtMs = nowMs()
		if enabled {
			s.store.Jobs[i].State.NextRunAtMs = computeNextRun(
				s.store.Jobs[i].Schedule, s.store.Jobs[i].State.LastRunAtMs, nowMs())
		} else {
			s.store.Jobs[i].State.NextRunAtMs = nil
			s.cancelTimerLocked(id)
		}
		s.saveLocked()
		return true
	}
	return false
}

// Tick returns every enabled job due at or before now, advancing and
// persisting each job's next-run time. One-shot jobs are disabled or removed
// per deleteAfterRun. Used by the embedded scheduler's recovery path and by
// hosts that drive the service with their own clock.
func (s *Service) Tick(now int64) []CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	due := s.collectDueLocked(now)
	for _, job := range due {
		s.advanceLocked(job, now)
	}
	if len(due) > 0 {
		s.saveLocked()
	}
	return due
}

// --------------------------------------------------------------------------
// CLI-facing helpers (used by cmd/cron.go)
// --------------------------------------------------------------------------

// ListAllJobs returns full job records sorted by next run time.
func (s *Service) ListAllJobs(includeDisabled bool) []CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.loadLocked()
	var jobs []CronJob
	for _, j := range s.store.Jobs {
		if includeDisabled || j.Enabled {
			jobs = append(jobs, j)
		}
	}
	sort.Slice(jobs, func(i, k int) bool {
		a := int64(^uint64(0) >> 1)
		b := int64(^uint64(0) >> 1)
		if jobs[i].State.NextRunAtMs != nil {
			a = *jobs[i].State.NextRunAtMs
		}
		if jobs[k].State.NextRunAtMs != nil {
			b = *jobs[k].State.NextRunAtMs
		}
		return a < b
	})
	return jobs
}

// AddJobFull is the CLI-level add; returns the created job record.
func (s *Service) AddJobFull(name, message, payloadKind, kind string, everyMs int64, cronExpr, tz string,
	atMs int64, deliver bool, channel, to string, deleteAfterRun bool) (CronJob, error) {
	id, err := s.AddJob(name, message, payloadKind, kind, everyMs, cronExpr, tz, atMs, deliver, channel, to, deleteAfterRun)
	if err != nil {
		return CronJob{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.store.Jobs {
		if j.ID == id {
			return j, nil
		}
	}
	return CronJob{}, fmt.Errorf("job not found after add")
}

// RunJob manually executes a job (force=true ignores disabled flag).
func (s *Service) RunJob(ctx context.Context, id string, force bool) bool {
	s.mu.Lock()
	if len(s.store.Jobs) == 0 {
		_ = s.loadLocked()
	}
	var job *CronJob
	for i := range s.store.Jobs {
		if s.store.Jobs[i].ID == id {
			if !force && !s.store.Jobs[i].Enabled {
				s.mu.Unlock()
				return false
			}
			job = &s.store.Jobs[i]
			break
		}
	}
	if job == nil {
		s.mu.Unlock()
		return false
	}
	jobCopy := *job
	s.mu.Unlock()

	s.executeJob(ctx, jobCopy)
	return true
}

// --------------------------------------------------------------------------
// Internal scheduling logic
// --------------------------------------------------------------------------

// collectDueLocked returns enabled jobs whose next run is at or before now.
func (s *Service) collectDueLocked(now int64) []CronJob {
	var due []CronJob
	for _, j := range s.store.Jobs {
		if j.Enabled && j.State.NextRunAtMs != nil && *j.State.NextRunAtMs <= now {
			due = append(due, j)
		}
	}
	return due
}

// advanceLocked moves a fired job past its run: one-shot jobs are removed or
// disabled, recurring jobs get a fresh next-run time.
func (s *Service) advanceLocked(job CronJob, now int64) {
	for i := range s.store.Jobs {
		if s.store.Jobs[i].ID != job.ID {
			continue
		}
		s.store.Jobs[i].State.LastRunAtMs = &now
		s.store.Jobs[i].UpdatedAtMs = now
		if job.Schedule.Kind == "at" {
			if job.DeleteAfterRun {
				s.removeFromSliceLocked(job.ID)
			} else {
				s.store.Jobs[i].Enabled = false
				s.store.Jobs[i].State.NextRunAtMs = nil
			}
		} else {
			s.store.Jobs[i].State.NextRunAtMs = computeNextRun(job.Schedule, &now, now)
		}
		return
	}
}

func (s *Service) removeFromSliceLocked(id string) {
	filtered := s.store.Jobs[:0]
	for _, j := range s.store.Jobs {
		if j.ID != id {
			filtered = append(filtered, j)
		}
	}
	s.store.Jobs = filtered
}

func (s *Service) recomputeNextRunsLocked() {
	now := nowMs()
	for i := range s.store.Jobs {
		j := &s.store.Jobs[i]
		if !j.Enabled {
			continue
		}
		if j.Schedule.Kind == "at" {
			// Keep the original fire time; past one-shots were recovered.
			continue
		}
		j.State.NextRunAtMs = computeNextRun(j.Schedule, j.State.LastRunAtMs, now)
	}
}

func (s *Service) armAllLocked(ctx context.Context) {
	for _, j := range s.store.Jobs {
		if j.Enabled {
			s.armJobLocked(ctx, j)
		}
	}
}

func (s *Service) armJobLocked(ctx context.Context, job CronJob) {
	s.cancelTimerLocked(job.ID)

	switch job.Schedule.Kind {
	case "every":
		if job.Schedule.EveryMs == nil || *job.Schedule.EveryMs <= 0 {
			return
		}
		d := time.Duration(*job.Schedule.EveryMs) * time.Millisecond
		t := time.AfterFunc(d, func() {
			s.executeJob(ctx, job)
			// Re-arm for next tick, refreshing from the store in case the
			// job changed.
			s.mu.Lock()
			for _, j := range s.store.Jobs {
				if j.ID == job.ID && j.Enabled {
					s.armJobLocked(ctx, j)
					break
				}
			}
			s.mu.Unlock()
		})
		s.timers[job.ID] = t

	case "at":
		if job.Schedule.AtMs == nil {
			return
		}
		delay := time.Until(time.UnixMilli(*job.Schedule.AtMs))
		if delay < 0 {
			return
		}
		t := time.AfterFunc(delay, func() {
			s.executeJob(ctx, job)
		})
		s.timers[job.ID] = t

	case "cron":
		if job.Schedule.Expr == nil {
			return
		}
		loc := time.Local
		if job.Schedule.TZ != nil && *job.Schedule.TZ != "" {
			if l, err := time.LoadLocation(*job.Schedule.TZ); err == nil {
				loc = l
			}
		}
		sched, err := fiveField.Parse(*job.Schedule.Expr)
		if err != nil {
			slog.Warn("cron: invalid cron expression", "job", job.ID, "expr", *job.Schedule.Expr, "err", err)
			return
		}
		jobCopy := job
		entryID := s.robfig.Schedule(
			withLocation(sched, loc),
			robfigcron.FuncJob(func() { s.executeJob(ctx, jobCopy) }),
		)
		s.robfigIDs[job.ID] = entryID
	}
}

func (s *Service) cancelTimerLocked(id string) {
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	if eid, ok := s.robfigIDs[id]; ok {
		s.robfig.Remove(eid)
		delete(s.robfigIDs, id)
	}
}

func (s *Service) executeJob(ctx context.Context, job CronJob) {
	startMs := nowMs()
	slog.Info("cron: executing job", "name", job.Name, "id", job.ID)

	var lastStatus = "ok"
	var lastErr, lastResult *string

	if s.onJob != nil {
		result, err := s.onJob(ctx, job)
		if err != nil {
			lastStatus = "error"
			e := err.Error()
			lastErr = &e
			slog.Error("cron: job failed", "name", job.Name, "err", err)
		} else if result != "" {
			lastResult = &result
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.store.Jobs {
		if s.store.Jobs[i].ID != job.ID {
			continue
		}
		now := nowMs()
		s.store.Jobs[i].State.LastRunAtMs = &startMs
		s.store.Jobs[i].State.LastStatus = &lastStatus
		s.store.Jobs[i].State.LastError = lastErr
		s.store.Jobs[i].State.LastResult = lastResult
		s.store.Jobs[i].UpdatedAtMs = now

		if job.Schedule.Kind == "at" {
			if job.DeleteAfterRun {
				s.removeFromSliceLocked(job.ID)
			} else {
				s.store.Jobs[i].Enabled = false
				s.store.Jobs[i].State.NextRunAtMs = nil
			}
		} else {
			s.store.Jobs[i].State.NextRunAtMs = computeNextRun(job.Schedule, &startMs, now)
		}
		break
	}
	s.saveLocked()
}

// --------------------------------------------------------------------------
// Persistence
// --------------------------------------------------------------------------

func (s *Service) loadLocked() error {
	if len(s.store.Jobs) > 0 {
		return nil // already loaded
	}
	data, err := os.ReadFile(s.storePath)
	if os.IsNotExist(err) {
		s.store = cronStore{Version: 1}
		return nil
	}
	if err != nil {
		return err
	}
	var st cronStore
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	if st.Version == 0 {
		st.Version = 1
	}
	s.store = st
	return nil
}

func (s *Service) saveLocked() {
	if err := os.MkdirAll(filepath.Dir(s.storePath), 0o755); err != nil {
		slog.Warn("cron: mkdir failed", "err", err)
		return
	}
	data, err := json.MarshalIndent(s.store, "", "  ")
	if err != nil {
		slog.Warn("cron: marshal failed", "err", err)
		return
	}
	if err := os.WriteFile(s.storePath, data, 0o644); err != nil {
		slog.Warn("cron: write failed", "err", err)
	}
}

// --------------------------------------------------------------------------
// Utility
// --------------------------------------------------------------------------

func nowMs() int64 { return time.Now().UnixMilli() }

func shortID() string {
	return fmt.Sprintf("%08x", time.Now().UnixNano()&0xFFFFFFFF)
}

// computeNextRun returns the next fire time for a schedule. For interval
// jobs the base is the last run when known, otherwise now.
func computeNextRun(sched CronSchedule, lastRunMs *int64, nowMs int64) *int64 {
	switch sched.Kind {
	case "at":
		if sched.AtMs != nil && *sched.AtMs > nowMs {
			v := *sched.AtMs
			return &v
		}
	case "every":
		if sched.EveryMs != nil && *sched.EveryMs > 0 {
			base := nowMs
			if lastRunMs != nil && *lastRunMs+*sched.EveryMs > nowMs {
				base = *lastRunMs
			}
			v := base + *sched.EveryMs
			return &v
		}
	case "cron":
		if sched.Expr != nil {
			loc := time.Local
			if sched.TZ != nil && *sched.TZ != "" {
				if l, err := time.LoadLocation(*sched.TZ); err == nil {
					loc = l
				}
			}
			parsed, err := fiveField.Parse(*sched.Expr)
			if err == nil {
				next := parsed.Next(time.UnixMilli(nowMs).In(loc))
				v := next.UnixMilli()
				return &v
			}
		}
	}
	return nil
}

// withLocation wraps a Schedule to always use a specific location.
type locSchedule struct {
	inner robfigcron.Schedule
	loc   *time.Location
}

func (l locSchedule) Next(t time.Time) time.Time {
	return l.inner.Next(t.In(l.loc))
}

func withLocation(s robfigcron.Schedule, loc *time.Location) robfigcron.Schedule {
	return locSchedule{inner: s, loc: loc}
}
