// Package todo implements the markdown-backed task board exposed through the
// todo tool: a human-readable board plus an embedded JSON data block that is
// the source of truth.
package todo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	dataStartMarker = "<!-- TODO_DATA_START -->"
	dataEndMarker   = "<!-- TODO_DATA_END -->"

	autoReviewStartMarker = "<!-- TODO_AUTO_REVIEW_START -->"
	autoReviewEndMarker   = "<!-- TODO_AUTO_REVIEW_END -->"
)

var autoReviewBlock = autoReviewStartMarker + "\n" +
	"- [ ] Daily TODO review: use `todo(action=\"review_daily\")`; if it runs, summarize key changes briefly.\n" +
	autoReviewEndMarker

// Valid item statuses.
var validStatuses = []string{"todo", "doing", "blocked", "done", "archived"}

func isValidStatus(s string) bool {
	for _, v := range validStatuses {
		if s == v {
			return true
		}
	}
	return false
}

func isOpenStatus(s string) bool {
	return s == "todo" || s == "doing" || s == "blocked"
}

// Item is a single task on the board.
type Item struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Status      string   `json:"status"`
	Priority    int      `json:"priority"`
	Note        string   `json:"note"`
	Due         string   `json:"due,omitempty"`
	Tags        []string `json:"tags"`
	DependsOn   []string `json:"depends_on"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
	CompletedAt string   `json:"completed_at,omitempty"`
}

func (it *Item) clone() *Item {
	c := *it
	c.Tags = append([]string(nil), it.Tags...)
	c.DependsOn = append([]string(nil), it.DependsOn...)
	return &c
}

// Meta is the board-level bookkeeping stored alongside the items.
type Meta struct {
	Version           int    `json:"version"`
	LastID            int    `json:"last_id"`
	LastReviewDate    string `json:"last_review_date,omitempty"`
	LastReviewSummary string `json:"last_review_summary,omitempty"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
}

// Store is the full persisted state: metadata plus the item list.
type Store struct {
	Meta  Meta    `json:"meta"`
	Items []*Item `json:"items"`
}

func (s *Store) clone() *Store {
	c := &Store{Meta: s.Meta, Items: make([]*Item, 0, len(s.Items))}
	for _, it := range s.Items {
		c.Items = append(c.Items, it.clone())
	}
	return c
}

func (s *Store) find(id string) *Item {
	for _, it := range s.Items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

func nowISO() string {
	return time.Now().Format("2006-01-02T15:04:05")
}

func todayDate() string {
	return time.Now().Format("2006-01-02")
}

// Storage persists the Store as markdown with an embedded JSON block.
// Single-writer: the owning Service serializes all mutations.
type Storage struct {
	workspace     string
	todoPath      string
	backupPath    string
	heartbeatPath string
}

// NewStorage creates a Storage rooted at the given workspace directory.
func NewStorage(workspace string) *Storage {
	memDir := filepath.Join(workspace, "memory")
	return &Storage{
		workspace:     workspace,
		todoPath:      filepath.Join(memDir, "todo.md"),
		backupPath:    filepath.Join(memDir, "todo.md.bak"),
		heartbeatPath: filepath.Join(workspace, "HEARTBEAT.md"),
	}
}

// Path returns the board file location.
func (st *Storage) Path() string { return st.todoPath }

func (st *Storage) defaultStore() *Store {
	now := nowISO()
	return &Store{
		Meta:  Meta{Version: 1, LastID: 0, CreatedAt: now, UpdatedAt: now},
		Items: []*Item{},
	}
}

// Init writes a fresh empty store and ensures the heartbeat review block.
func (st *Storage) Init() (*Store, error) {
	store := st.defaultStore()
	if err := st.Save(store); err != nil {
		return nil, err
	}
	if err := st.EnsureAutoReviewBlock(); err != nil {
		return nil, err
	}
	return store, nil
}

// LoadOrInit loads the existing store or initializes a new one.
func (st *Storage) LoadOrInit() (*Store, error) {
	if _, err := os.Stat(st.todoPath); os.IsNotExist(err) {
		return st.Init()
	}
	return st.Load()
}

// Load reads the store from the markdown data block.
func (st *Storage) Load() (*Store, error) {
	data, err := os.ReadFile(st.todoPath)
	if err != nil {
		return nil, fmt.Errorf("read TODO file: %w", err)
	}
	payload, err := extractPayload(string(data))
	if err != nil {
		return nil, err
	}
	var store Store
	if err := json.Unmarshal(payload, &store); err != nil {
		return nil, fmt.Errorf("invalid TODO file: data JSON parse failed (%v). Repair the JSON block or run todo(action='init')", err)
	}
	if store.Items == nil {
		store.Items = []*Item{}
	}
	for _, it := range store.Items {
		if err := validateItem(it); err != nil {
			return nil, err
		}
	}
	return &store, nil
}

// Save atomically replaces the board file and keeps a single backup of the
// previous content.
func (st *Storage) Save(store *Store) error {
	if err := os.MkdirAll(filepath.Dir(st.todoPath), 0o755); err != nil {
		return err
	}
	markdown := renderMarkdown(store)

	if current, err := os.ReadFile(st.todoPath); err == nil {
		if err := os.WriteFile(st.backupPath, current, 0o644); err != nil {
			return fmt.Errorf("write backup: %w", err)
		}
	}

	tmp := st.todoPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(markdown), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, st.todoPath)
}

var autoReviewRE = regexp.MustCompile(
	regexp.QuoteMeta(autoReviewStartMarker) + `[\s\S]*?` + regexp.QuoteMeta(autoReviewEndMarker))

// EnsureAutoReviewBlock keeps the managed daily-review block in HEARTBEAT.md.
func (st *Storage) EnsureAutoReviewBlock() error {
	var content string
	if data, err := os.ReadFile(st.heartbeatPath); err == nil {
		content = string(data)
	} else {
		content = "# Heartbeat Tasks\n\n" +
			"This file is checked periodically by your ambergull agent.\n\n" +
			"## Active Tasks\n\n" +
			"## Completed\n"
	}

	var next string
	if autoReviewRE.MatchString(content) {
		next = autoReviewRE.ReplaceAllString(content, autoReviewBlock)
	} else {
		suffix := "\n\n"
		if strings.HasSuffix(content, "\n") {
			suffix = "\n"
		}
		next = content + suffix + autoReviewBlock + "\n"
	}

	if next == content {
		return nil
	}
	return os.WriteFile(st.heartbeatPath, []byte(next), 0o644)
}

var jsonFenceRE = regexp.MustCompile("```json\\s*([\\s\\S]*?)\\s*```")

func extractPayload(markdown string) (json.RawMessage, error) {
	start := strings.Index(markdown, dataStartMarker)
	end := strings.Index(markdown, dataEndMarker)
	if start < 0 || end < 0 || end <= start {
		return nil, fmt.Errorf("invalid TODO file: TODO data block markers are missing or malformed. Run todo(action='init') to repair")
	}
	segment := markdown[start+len(dataStartMarker) : end]
	m := jsonFenceRE.FindStringSubmatch(segment)
	if m == nil {
		return nil, fmt.Errorf("invalid TODO file: JSON fenced block not found between data markers. Run todo(action='init') to repair")
	}
	return json.RawMessage(strings.TrimSpace(m[1])), nil
}

func validateItem(it *Item) error {
	if strings.TrimSpace(it.ID) == "" {
		return fmt.Errorf("todo item id is required")
	}
	if strings.TrimSpace(it.Title) == "" {
		return fmt.Errorf("title is required for item %s", it.ID)
	}
	if !isValidStatus(it.Status) {
		return fmt.Errorf("status must be one of %v", validStatuses)
	}
	if it.Priority < 1 || it.Priority > 4 {
		return fmt.Errorf("priority must be an integer in range 1..4")
	}
	if it.Tags == nil {
		it.Tags = []string{}
	}
	if it.DependsOn == nil {
		it.DependsOn = []string{}
	}
	return nil
}

func renderMarkdown(store *Store) string {
	statusOrder := []string{"todo", "doing", "blocked", "done", "archived"}
	sectionTitles := map[string]string{
		"todo": "TODO", "doing": "DOING", "blocked": "BLOCKED",
		"done": "DONE", "archived": "ARCHIVED",
	}

	var b strings.Builder
	b.WriteString("# TODO Board\n\n")
	b.WriteString("Managed by the `todo` tool. Manual edits are allowed in board text,\n")
	b.WriteString("but keep the JSON data block valid.\n\n")
	b.WriteString(fmt.Sprintf("_Last rendered: %s_\n\n", nowISO()))
	b.WriteString("## Board\n\n")

	for _, status := range statusOrder {
		b.WriteString("### " + sectionTitles[status] + "\n")
		empty := true
		for _, it := range store.Items {
			if it.Status != status {
				continue
			}
			empty = false
			checkbox := "[ ]"
			if status == "done" || status == "archived" {
				checkbox = "[x]"
			}
			headline := fmt.Sprintf("- %s %s | P%d", checkbox, it.ID, it.Priority)
			if it.Due != "" {
				headline += " | due:" + it.Due
			}
			headline += " | " + it.Title
			b.WriteString(headline + "\n")
			if len(it.Tags) > 0 {
				b.WriteString("  tags: " + strings.Join(it.Tags, ", ") + "\n")
			}
			if len(it.DependsOn) > 0 {
				b.WriteString("  depends_on: " + strings.Join(it.DependsOn, ", ") + "\n")
			}
			if it.Note != "" {
				b.WriteString("  note: " + it.Note + "\n")
			}
		}
		if empty {
			b.WriteString("- (empty)\n")
		}
		b.WriteString("\n")
	}

	payload, _ := json.MarshalIndent(store, "", "  ")
	b.WriteString(dataStartMarker + "\n")
	b.WriteString("```json\n")
	b.Write(payload)
	b.WriteString("\n```\n")
	b.WriteString(dataEndMarker + "\n")
	return b.String()
}
