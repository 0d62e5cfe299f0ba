package codex

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ExecutionResult is the execution outcome recorded on a merge plan.
type ExecutionResult struct {
	OK       bool           `json:"ok"`
	Summary  string         `json:"summary"`
	AtMs     int64          `json:"atMs"`
	ThreadID string         `json:"threadId,omitempty"`
	Usage    map[string]any `json:"usage"`
	Error    string         `json:"error,omitempty"`
}

// MergePlanRecord is a persisted merge advisory plan. The stored
// confirmationTokenHash is the SHA-256 hex of the single-use token; the token
// itself is never persisted.
type MergePlanRecord struct {
	PlanID                string           `json:"planId"`
	Status                string           `json:"status"` // planned, revised, executed, failed
	CreatedAtMs           int64            `json:"createdAtMs"`
	UpdatedAtMs           int64            `json:"updatedAtMs"`
	BaseRef               string           `json:"baseRef"`
	UpstreamRef           string           `json:"upstreamRef"`
	TargetBranch          string           `json:"targetBranch"`
	WorkingDir            string           `json:"workingDir"`
	ReportPath            string           `json:"reportPath"`
	ReportExcerpt         string           `json:"reportExcerpt"`
	Recommendation        string           `json:"recommendation"`
	ConfirmationTokenHash string           `json:"confirmationTokenHash"`
	Revision              int              `json:"revision"`
	LastFeedback          string           `json:"lastFeedback,omitempty"`
	PlanThreadID          string           `json:"planThreadId,omitempty"`
	PlanUsage             map[string]any   `json:"planUsage"`
	Execution             *ExecutionResult `json:"execution,omitempty"`
}

// PublicView renders the record for status/list responses, hiding the
// confirmation hash and excerpt.
func (r *MergePlanRecord) PublicView(includeRecommendation bool) map[string]any {
	view := map[string]any{
		"plan_id":       r.PlanID,
		"status":        r.Status,
		"revision":      r.Revision,
		"created_at_ms": r.CreatedAtMs,
		"updated_at_ms": r.UpdatedAtMs,
		"base_ref":      r.BaseRef,
		"upstream_ref":  r.UpstreamRef,
		"target_branch": r.TargetBranch,
		"working_dir":   r.WorkingDir,
		"report_path":   r.ReportPath,
		"has_execution": r.Execution != nil,
	}
	if r.Execution != nil {
		view["execution"] = r.Execution
	}
	if includeRecommendation {
		view["recommendation"] = r.Recommendation
	}
	return view
}

// MergePlanStore persists merge plans as one JSON file per plan under
// workspace/memory/merge_plans. Writes are atomic (tmp + rename).
type MergePlanStore struct {
	dir string
}

// NewMergePlanStore creates a store rooted at the given workspace.
func NewMergePlanStore(workspace string) *MergePlanStore {
	return &MergePlanStore{dir: filepath.Join(workspace, "memory", "merge_plans")}
}

// Dir returns the plan directory.
func (s *MergePlanStore) Dir() string { return s.dir }

// Save writes the record to its plan file.
func (s *MergePlanStore) Save(record *MergePlanRecord) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	path := s.pathFor(record.PlanID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads a plan by id; returns nil if missing or unreadable.
func (s *MergePlanStore) Load(planID string) *MergePlanRecord {
	data, err := os.ReadFile(s.pathFor(planID))
	if err != nil {
		return nil
	}
	var record MergePlanRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil
	}
	return &record
}

// List returns up to limit plans, newest first by update time.
func (s *MergePlanStore) List(limit int) []*MergePlanRecord {
	if limit < 1 {
		limit = 1
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}

	var records []*MergePlanRecord
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		var record MergePlanRecord
		if err := json.Unmarshal(data, &record); err != nil {
			continue
		}
		records = append(records, &record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].UpdatedAtMs > records[j].UpdatedAtMs
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records
}

func (s *MergePlanStore) pathFor(planID string) string {
	return filepath.Join(s.dir, strings.TrimSpace(planID)+".json")
}
