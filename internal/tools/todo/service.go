package todo

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

var idPattern = regexp.MustCompile(`^T\d{4,}$`)

// Result is the structured payload returned by every todo action.
type Result struct {
	OK      bool             `json:"ok"`
	Action  string           `json:"action"`
	Summary string           `json:"summary"`
	Items   []map[string]any `json:"items"`
	Stats   map[string]any   `json:"stats"`
	Errors  []string         `json:"errors"`
}

// Service implements the todo actions on top of Storage. All mutations are
// serialized through the service mutex; the store file has a single writer.
type Service struct {
	mu      sync.Mutex
	storage *Storage
}

// NewService creates a Service rooted at the given workspace.
func NewService(workspace string) *Service {
	return &Service{storage: NewStorage(workspace)}
}

// Handle dispatches an action and returns a structured result. Errors are
// reported inside the result rather than as Go errors so the LLM sees them.
func (s *Service) Handle(action string, params map[string]any) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := strings.ToLower(strings.TrimSpace(action))
	var (
		res Result
		err error
	)
	switch name {
	case "init":
		res, err = s.actionInit()
	case "add":
		res, err = s.actionAdd(params)
	case "list":
		res, err = s.actionList(params)
	case "update":
		res, err = s.actionUpdate(params)
	case "bulk_update":
		res, err = s.actionBulkUpdate(params)
	case "move":
		status, _ := params["status"].(string)
		if status == "" {
			return errResult(name, "status is required for move")
		}
		res, err = s.actionUpdate(map[string]any{
			"id":    params["id"],
			"patch": map[string]any{"status": status},
		})
	case "done":
		res, err = s.actionUpdate(map[string]any{
			"id":    params["id"],
			"patch": map[string]any{"status": "done"},
		})
	case "remove":
		res, err = s.actionRemove(params)
	case "bulk_remove":
		res, err = s.actionBulkRemove(params)
	case "archive":
		res, err = s.actionArchive(params)
	case "reorder":
		res, err = s.actionReorder(params)
	case "stats":
		res, err = s.actionStats()
	case "review_daily":
		res, err = s.actionReviewDaily()
	default:
		return errResult(name, fmt.Sprintf("Unsupported action: %s", name))
	}
	if err != nil {
		return errResult(name, err.Error())
	}
	res.Action = name
	return res
}

func (s *Service) actionInit() (Result, error) {
	store, err := s.storage.LoadOrInit()
	if err != nil {
		return Result{}, err
	}
	if err := s.storage.EnsureAutoReviewBlock(); err != nil {
		return Result{}, err
	}
	return okResult("TODO store initialized and daily review block ensured.", nil, computeStats(store)), nil
}

func (s *Service) actionAdd(params map[string]any) (Result, error) {
	store, err := s.storage.LoadOrInit()
	if err != nil {
		return Result{}, err
	}
	now := nowISO()

	title, err := normalizeTitle(params["title"])
	if err != nil {
		return Result{}, err
	}
	status := "todo"
	if v, ok := params["status"].(string); ok && v != "" {
		if status, err = normalizeStatus(v); err != nil {
			return Result{}, err
		}
	}
	priority := 2
	if v, ok := params["priority"]; ok && v != nil {
		if priority, err = normalizePriority(v); err != nil {
			return Result{}, err
		}
	}
	due, err := normalizeDue(params["due"])
	if err != nil {
		return Result{}, err
	}
	tags, err := normalizeStringList(params["tags"])
	if err != nil {
		return Result{}, err
	}
	deps, err := normalizeIDList(params["depends_on"], "depends_on")
	if err != nil {
		return Result{}, err
	}
	note, _ := params["note"].(string)

	nextID := nextID(store)
	item := &Item{
		ID:        nextID,
		Title:     title,
		Status:    status,
		Priority:  priority,
		Note:      strings.TrimSpace(note),
		Due:       due,
		Tags:      tags,
		DependsOn: deps,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if status == "done" {
		item.CompletedAt = now
	}

	// Validate on a copy so a rejected add leaves the store untouched.
	temp := store.clone()
	temp.Items = append(temp.Items, item.clone())
	if err := validateDependencies(temp.Items); err != nil {
		return Result{}, err
	}

	store.Items = append(store.Items, item)
	var num int
	fmt.Sscanf(nextID[1:], "%d", &num)
	store.Meta.LastID = num
	store.Meta.UpdatedAt = nowISO()
	if err := s.storage.Save(store); err != nil {
		return Result{}, err
	}

	return okResult(fmt.Sprintf("Added task %s.", nextID),
		[]map[string]any{publicItem(item)}, computeStats(store)), nil
}

func (s *Service) actionList(params map[string]any) (Result, error) {
	store, err := s.storage.LoadOrInit()
	if err != nil {
		return Result{}, err
	}
	filters, _ := params["filters"].(map[string]any)
	filtered, err := applyFilters(store.Items, filters)
	if err != nil {
		return Result{}, err
	}
	sortBy, _ := params["sort_by"].(string)
	sortOrder, _ := params["sort_order"].(string)
	ordered, err := sortItems(filtered, sortBy, sortOrder)
	if err != nil {
		return Result{}, err
	}

	if v, ok := asInt(params["limit"]); ok {
		if v < 1 {
			return Result{}, fmt.Errorf("limit must be >= 1")
		}
		if v < len(ordered) {
			ordered = ordered[:v]
		}
	}

	items := make([]map[string]any, 0, len(ordered))
	for _, it := range ordered {
		items = append(items, publicItem(it))
	}
	return okResult(fmt.Sprintf("Listed %d task(s).", len(ordered)), items, computeStats(store)), nil
}

func (s *Service) actionUpdate(params map[string]any) (Result, error) {
	store, err := s.storage.LoadOrInit()
	if err != nil {
		return Result{}, err
	}
	targetID, err := normalizeID(params["id"], "id")
	if err != nil {
		return Result{}, err
	}
	patch, err := normalizePatch(params["patch"])
	if err != nil {
		return Result{}, err
	}

	updated, err := updateSingleItem(store, targetID, patch)
	if err != nil {
		return Result{}, err
	}
	store.Meta.UpdatedAt = nowISO()
	if err := s.storage.Save(store); err != nil {
		return Result{}, err
	}
	return okResult(fmt.Sprintf("Updated task %s.", targetID),
		[]map[string]any{publicItem(updated)}, computeStats(store)), nil
}

func (s *Service) actionBulkUpdate(params map[string]any) (Result, error) {
	targetIDs, err := normalizeIDList(params["ids"], "ids")
	if err != nil {
		return Result{}, err
	}
	if len(targetIDs) == 0 {
		return Result{}, fmt.Errorf("ids is required for bulk_update")
	}
	patch, err := normalizePatch(params["patch"])
	if err != nil {
		return Result{}, err
	}
	store, err := s.storage.LoadOrInit()
	if err != nil {
		return Result{}, err
	}

	// Apply on a copy; persist only when every update succeeds.
	temp := store.clone()
	var updated []*Item
	for _, id := range targetIDs {
		it, err := updateSingleItem(temp, id, patch)
		if err != nil {
			return Result{}, err
		}
		updated = append(updated, it)
	}
	temp.Meta.UpdatedAt = nowISO()
	if err := s.storage.Save(temp); err != nil {
		return Result{}, err
	}

	items := make([]map[string]any, 0, len(updated))
	for _, it := range updated {
		items = append(items, publicItem(it))
	}
	return okResult(fmt.Sprintf("Updated %d task(s).", len(updated)), items, computeStats(temp)), nil
}

func (s *Service) actionRemove(params map[string]any) (Result, error) {
	store, err := s.storage.LoadOrInit()
	if err != nil {
		return Result{}, err
	}
	targetID, err := normalizeID(params["id"], "id")
	if err != nil {
		return Result{}, err
	}
	if store.find(targetID) == nil {
		return Result{}, fmt.Errorf("Task not found: %s", targetID)
	}

	conflicts := findExternalDependents(store, map[string]bool{targetID: true})
	if users, ok := conflicts[targetID]; ok {
		sort.Strings(users)
		return Result{}, fmt.Errorf("Cannot remove %s: depended on by active task(s): %s.",
			targetID, strings.Join(users, ", "))
	}

	kept := store.Items[:0]
	for _, it := range store.Items {
		if it.ID != targetID {
			kept = append(kept, it)
		}
	}
	store.Items = kept
	store.Meta.UpdatedAt = nowISO()
	if err := s.storage.Save(store); err != nil {
		return Result{}, err
	}
	return okResult(fmt.Sprintf("Removed task %s.", targetID),
		[]map[string]any{{"id": targetID}}, computeStats(store)), nil
}

func (s *Service) actionBulkRemove(params map[string]any) (Result, error) {
	ids, err := normalizeIDList(params["ids"], "ids")
	if err != nil {
		return Result{}, err
	}
	if len(ids) == 0 {
		return Result{}, fmt.Errorf("ids is required for bulk_remove")
	}
	targetIDs := map[string]bool{}
	for _, id := range ids {
		targetIDs[id] = true
	}

	store, err := s.storage.LoadOrInit()
	if err != nil {
		return Result{}, err
	}
	var missing []string
	for id := range targetIDs {
		if store.find(id) == nil {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Result{}, fmt.Errorf("Task(s) not found: %s", strings.Join(missing, ", "))
	}

	conflicts := findExternalDependents(store, targetIDs)
	if len(conflicts) > 0 {
		deps := make([]string, 0, len(conflicts))
		for dep := range conflicts {
			deps = append(deps, dep)
		}
		sort.Strings(deps)
		var parts []string
		for _, dep := range deps {
			users := conflicts[dep]
			sort.Strings(users)
			parts = append(parts, fmt.Sprintf("%s <- %s", dep, strings.Join(users, ", ")))
		}
		return Result{}, fmt.Errorf("Cannot bulk remove due to active dependencies: %s", strings.Join(parts, "; "))
	}

	kept := store.Items[:0]
	for _, it := range store.Items {
		if !targetIDs[it.ID] {
			kept = append(kept, it)
		}
	}
	store.Items = kept
	store.Meta.UpdatedAt = nowISO()
	if err := s.storage.Save(store); err != nil {
		return Result{}, err
	}

	sorted := make([]string, 0, len(targetIDs))
	for id := range targetIDs {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)
	items := make([]map[string]any, 0, len(sorted))
	for _, id := range sorted {
		items = append(items, map[string]any{"id": id})
	}
	return okResult(fmt.Sprintf("Removed %d task(s).", len(sorted)), items, computeStats(store)), nil
}

func (s *Service) actionArchive(params map[string]any) (Result, error) {
	store, err := s.storage.LoadOrInit()
	if err != nil {
		return Result{}, err
	}
	now := nowISO()
	var updated []*Item

	ids, err := normalizeIDList(params["ids"], "ids")
	if err != nil {
		return Result{}, err
	}
	if len(ids) > 0 {
		for _, id := range ids {
			it := store.find(id)
			if it == nil {
				return Result{}, fmt.Errorf("Task not found: %s", id)
			}
			if it.Status != "done" {
				return Result{}, fmt.Errorf("Only done tasks can be archived: %s", id)
			}
			it.Status = "archived"
			it.UpdatedAt = now
			updated = append(updated, it)
		}
	} else {
		filters, _ := params["filters"].(map[string]any)
		scoped := map[string]any{}
		for k, v := range filters {
			scoped[k] = v
		}
		scoped["statuses"] = []any{"done"}
		candidates, err := applyFilters(store.Items, scoped)
		if err != nil {
			return Result{}, err
		}
		for _, it := range candidates {
			if it.Status == "done" {
				it.Status = "archived"
				it.UpdatedAt = now
				updated = append(updated, it)
			}
		}
	}

	if len(updated) == 0 {
		return okResult("No tasks archived.", []map[string]any{}, computeStats(store)), nil
	}

	store.Meta.UpdatedAt = nowISO()
	if err := s.storage.Save(store); err != nil {
		return Result{}, err
	}
	items := make([]map[string]any, 0, len(updated))
	for _, it := range updated {
		items = append(items, publicItem(it))
	}
	return okResult(fmt.Sprintf("Archived %d task(s).", len(updated)), items, computeStats(store)), nil
}

func (s *Service) actionReorder(params map[string]any) (Result, error) {
	store, err := s.storage.LoadOrInit()
	if err != nil {
		return Result{}, err
	}
	sortBy, _ := params["sort_by"].(string)
	if sortBy == "" {
		sortBy = "priority"
	}
	sortOrder, _ := params["sort_order"].(string)
	if sortOrder == "" {
		sortOrder = "asc"
	}
	ordered, err := sortItems(store.Items, sortBy, sortOrder)
	if err != nil {
		return Result{}, err
	}
	store.Items = ordered
	store.Meta.UpdatedAt = nowISO()
	if err := s.storage.Save(store); err != nil {
		return Result{}, err
	}

	preview := store.Items
	if len(preview) > 20 {
		preview = preview[:20]
	}
	items := make([]map[string]any, 0, len(preview))
	for _, it := range preview {
		items = append(items, publicItem(it))
	}
	return okResult(fmt.Sprintf("Reordered %d task(s).", len(store.Items)), items, computeStats(store)), nil
}

func (s *Service) actionStats() (Result, error) {
	store, err := s.storage.LoadOrInit()
	if err != nil {
		return Result{}, err
	}
	return okResult("Computed task statistics.", nil, computeStats(store)), nil
}

func (s *Service) actionReviewDaily() (Result, error) {
	store, err := s.storage.LoadOrInit()
	if err != nil {
		return Result{}, err
	}
	today := todayDate()
	if store.Meta.LastReviewDate == today {
		return okResult("Daily review already completed today.", nil, computeStats(store)), nil
	}

	var open []*Item
	for _, it := range store.Items {
		if isOpenStatus(it.Status) {
			open = append(open, it)
		}
	}
	ranked, err := sortItems(open, "priority", "asc")
	if err != nil {
		return Result{}, err
	}
	if len(ranked) > 5 {
		ranked = ranked[:5]
	}

	stats := computeStats(store)
	focus := "none"
	if len(ranked) > 0 {
		ids := make([]string, 0, len(ranked))
		for _, it := range ranked {
			ids = append(ids, it.ID)
		}
		focus = strings.Join(ids, ", ")
	}
	summary := fmt.Sprintf("Daily review: %d total, %d open, %d overdue, top focus: %s",
		stats["total"], stats["open"], stats["overdue"], focus)

	store.Meta.LastReviewDate = today
	store.Meta.LastReviewSummary = summary
	store.Meta.UpdatedAt = nowISO()
	if err := s.storage.Save(store); err != nil {
		return Result{}, err
	}

	items := make([]map[string]any, 0, len(ranked))
	for _, it := range ranked {
		items = append(items, publicItem(it))
	}
	return okResult(summary, items, stats), nil
}

// ---------------------------------------------------------------------------
// mutation helpers
// ---------------------------------------------------------------------------

func updateSingleItem(store *Store, taskID string, patch map[string]any) (*Item, error) {
	item := store.find(taskID)
	if item == nil {
		return nil, fmt.Errorf("Task not found: %s", taskID)
	}

	allowed := map[string]bool{
		"title": true, "note": true, "status": true, "priority": true,
		"due": true, "tags": true, "depends_on": true,
	}
	var unknown []string
	for k := range patch {
		if !allowed[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("Unsupported patch field(s): %s", strings.Join(unknown, ", "))
	}

	if v, ok := patch["title"]; ok {
		title, err := normalizeTitle(v)
		if err != nil {
			return nil, err
		}
		item.Title = title
	}
	if v, ok := patch["note"]; ok {
		note, _ := v.(string)
		item.Note = strings.TrimSpace(note)
	}
	if v, ok := patch["priority"]; ok {
		p, err := normalizePriority(v)
		if err != nil {
			return nil, err
		}
		item.Priority = p
	}
	if v, ok := patch["due"]; ok {
		due, err := normalizeDue(v)
		if err != nil {
			return nil, err
		}
		item.Due = due
	}
	if v, ok := patch["tags"]; ok {
		tags, err := normalizeStringList(v)
		if err != nil {
			return nil, err
		}
		item.Tags = tags
	}
	if v, ok := patch["depends_on"]; ok {
		deps, err := normalizeIDList(v, "depends_on")
		if err != nil {
			return nil, err
		}
		item.DependsOn = deps
	}
	if v, ok := patch["status"]; ok {
		status, err := normalizeStatus(v)
		if err != nil {
			return nil, err
		}
		item.Status = status
	}

	if err := validateDependencies(store.Items); err != nil {
		return nil, err
	}

	item.UpdatedAt = nowISO()
	if item.Status == "done" && item.CompletedAt == "" {
		item.CompletedAt = item.UpdatedAt
	}
	if isOpenStatus(item.Status) {
		item.CompletedAt = ""
	}
	return item, nil
}

func nextID(store *Store) string {
	existing := map[string]bool{}
	for _, it := range store.Items {
		existing[it.ID] = true
	}
	next := store.Meta.LastID
	if next < 0 {
		next = 0
	}
	next++
	for existing[fmt.Sprintf("T%04d", next)] {
		next++
	}
	return fmt.Sprintf("T%04d", next)
}

// findExternalDependents maps each target id to the active items outside the
// target set that depend on it.
func findExternalDependents(store *Store, targetIDs map[string]bool) map[string][]string {
	conflicts := map[string][]string{}
	for _, it := range store.Items {
		if it.Status == "archived" || targetIDs[it.ID] {
			continue
		}
		for _, dep := range it.DependsOn {
			if targetIDs[dep] {
				conflicts[dep] = append(conflicts[dep], it.ID)
			}
		}
	}
	return conflicts
}

// validateDependencies checks reference existence and acyclicity of the
// dependency graph over non-archived items (DFS coloring).
func validateDependencies(items []*Item) error {
	idSet := map[string]bool{}
	for _, it := range items {
		idSet[it.ID] = true
	}
	for _, it := range items {
		for _, dep := range it.DependsOn {
			if dep == it.ID {
				return fmt.Errorf("Task cannot depend on itself: %s", it.ID)
			}
			if !idSet[dep] {
				return fmt.Errorf("Dependency not found for %s: %s", it.ID, dep)
			}
		}
	}

	active := map[string]bool{}
	for _, it := range items {
		if it.Status != "archived" {
			active[it.ID] = true
		}
	}
	graph := map[string][]string{}
	var order []string
	for _, it := range items {
		if !active[it.ID] {
			continue
		}
		order = append(order, it.ID)
		for _, dep := range it.DependsOn {
			if active[dep] {
				graph[it.ID] = append(graph[it.ID], dep)
			}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	state := map[string]int{}
	var dfs func(node string, stack []string) error
	dfs = func(node string, stack []string) error {
		state[node] = gray
		stack = append(stack, node)
		for _, next := range graph[node] {
			switch state[next] {
			case white:
				if err := dfs(next, stack); err != nil {
					return err
				}
			case gray:
				cycle := strings.Join(append(stack, next), " -> ")
				return fmt.Errorf("Dependency cycle detected: %s", cycle)
			}
		}
		state[node] = black
		return nil
	}
	for _, node := range order {
		if state[node] == white {
			if err := dfs(node, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// filtering and sorting
// ---------------------------------------------------------------------------

func applyFilters(items []*Item, filters map[string]any) ([]*Item, error) {
	result := append([]*Item(nil), items...)
	includeArchived, _ := filters["include_archived"].(bool)

	var statusSet map[string]bool
	if raw, ok := filters["statuses"]; ok && raw != nil {
		list, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("filters.statuses must be a list")
		}
		statusSet = map[string]bool{}
		for _, v := range list {
			s, _ := v.(string)
			norm, err := normalizeStatus(s)
			if err != nil {
				return nil, err
			}
			statusSet[norm] = true
		}
	} else if !includeArchived {
		result = filterItems(result, func(it *Item) bool { return it.Status != "archived" })
	}
	if statusSet != nil {
		result = filterItems(result, func(it *Item) bool { return statusSet[it.Status] })
	}

	if raw, ok := filters["tags_any"]; ok {
		tags, err := normalizeStringList(raw)
		if err != nil {
			return nil, err
		}
		if len(tags) > 0 {
			want := map[string]bool{}
			for _, t := range tags {
				want[t] = true
			}
			result = filterItems(result, func(it *Item) bool {
				for _, t := range it.Tags {
					if want[t] {
						return true
					}
				}
				return false
			})
		}
	}

	if raw, ok := filters["tags_all"]; ok {
		tags, err := normalizeStringList(raw)
		if err != nil {
			return nil, err
		}
		if len(tags) > 0 {
			result = filterItems(result, func(it *Item) bool {
				have := map[string]bool{}
				for _, t := range it.Tags {
					have[t] = true
				}
				for _, t := range tags {
					if !have[t] {
						return false
					}
				}
				return true
			})
		}
	}

	if raw, ok := filters["keyword"]; ok {
		keyword := strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", raw)))
		if keyword != "" {
			result = filterItems(result, func(it *Item) bool {
				return strings.Contains(strings.ToLower(it.ID), keyword) ||
					strings.Contains(strings.ToLower(it.Title), keyword) ||
					strings.Contains(strings.ToLower(it.Note), keyword)
			})
		}
	}

	if raw, ok := filters["priority_min"]; ok && raw != nil {
		pmin, err := normalizePriority(raw)
		if err != nil {
			return nil, err
		}
		result = filterItems(result, func(it *Item) bool { return it.Priority >= pmin })
	}
	if raw, ok := filters["priority_max"]; ok && raw != nil {
		pmax, err := normalizePriority(raw)
		if err != nil {
			return nil, err
		}
		result = filterItems(result, func(it *Item) bool { return it.Priority <= pmax })
	}

	if raw, ok := filters["due_before"]; ok && raw != nil {
		cutoff, err := parseDueDatetime(fmt.Sprintf("%v", raw))
		if err != nil {
			return nil, err
		}
		result = filterItems(result, func(it *Item) bool {
			if it.Due == "" {
				return false
			}
			due, err := parseDueDatetime(it.Due)
			return err == nil && !due.After(cutoff)
		})
	}
	if raw, ok := filters["due_after"]; ok && raw != nil {
		cutoff, err := parseDueDatetime(fmt.Sprintf("%v", raw))
		if err != nil {
			return nil, err
		}
		result = filterItems(result, func(it *Item) bool {
			if it.Due == "" {
				return false
			}
			due, err := parseDueDatetime(it.Due)
			return err == nil && !due.Before(cutoff)
		})
	}

	if raw, ok := filters["overdue"]; ok && raw != nil {
		want, _ := raw.(bool)
		now := time.Now()
		result = filterItems(result, func(it *Item) bool { return isOverdue(it, now) == want })
	}

	return result, nil
}

func filterItems(items []*Item, keep func(*Item) bool) []*Item {
	out := items[:0:0]
	for _, it := range items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

func sortItems(items []*Item, sortBy, sortOrder string) ([]*Item, error) {
	if sortBy == "" {
		return append([]*Item(nil), items...), nil
	}
	key := strings.ToLower(strings.TrimSpace(sortBy))
	switch key {
	case "priority", "due", "created", "updated":
	default:
		return nil, fmt.Errorf("sort_by must be one of: priority, due, created, updated")
	}
	order := strings.ToLower(strings.TrimSpace(sortOrder))
	if order == "" {
		order = "asc"
	}
	if order != "asc" && order != "desc" {
		return nil, fmt.Errorf("sort_order must be one of: asc, desc")
	}
	reverse := order == "desc"

	createdTS := func(it *Item) float64 { return generalTimestamp(it.CreatedAt) }
	updatedTS := func(it *Item) float64 { return generalTimestamp(it.UpdatedAt) }
	dueTS := func(it *Item) float64 {
		if it.Due == "" {
			return math.Inf(1)
		}
		t, err := parseDueDatetime(it.Due)
		if err != nil {
			return math.Inf(1)
		}
		return float64(t.Unix())
	}

	var less func(a, b *Item) bool
	switch key {
	case "priority":
		less = func(a, b *Item) bool {
			if a.Priority != b.Priority {
				return a.Priority < b.Priority
			}
			if da, db := dueTS(a), dueTS(b); da != db {
				return da < db
			}
			return createdTS(a) < createdTS(b)
		}
	case "due":
		less = func(a, b *Item) bool {
			if da, db := dueTS(a), dueTS(b); da != db {
				return da < db
			}
			if a.Priority != b.Priority {
				return a.Priority < b.Priority
			}
			return createdTS(a) < createdTS(b)
		}
	case "created":
		less = func(a, b *Item) bool { return createdTS(a) < createdTS(b) }
	case "updated":
		less = func(a, b *Item) bool { return updatedTS(a) < updatedTS(b) }
	}

	out := append([]*Item(nil), items...)
	sort.SliceStable(out, func(i, j int) bool {
		if reverse {
			return less(out[j], out[i])
		}
		return less(out[i], out[j])
	})
	return out, nil
}

// ---------------------------------------------------------------------------
// stats and serialization
// ---------------------------------------------------------------------------

func computeStats(store *Store) map[string]any {
	counts := map[string]int{}
	for _, s := range validStatuses {
		counts[s] = 0
	}
	now := time.Now()
	overdue := 0
	priorityDist := map[string]int{"1": 0, "2": 0, "3": 0, "4": 0}
	for _, it := range store.Items {
		counts[it.Status]++
		if isOpenStatus(it.Status) && isOverdue(it, now) {
			overdue++
		}
		if it.Status != "archived" {
			priorityDist[fmt.Sprintf("%d", it.Priority)]++
		}
	}
	open := counts["todo"] + counts["doing"] + counts["blocked"]
	return map[string]any{
		"total":                 len(store.Items),
		"open":                  open,
		"overdue":               overdue,
		"by_status":             counts,
		"priority_distribution": priorityDist,
		"last_review_date":      store.Meta.LastReviewDate,
		"last_review_summary":   store.Meta.LastReviewSummary,
	}
}

func publicItem(it *Item) map[string]any {
	return map[string]any{
		"id":           it.ID,
		"title":        it.Title,
		"status":       it.Status,
		"priority":     it.Priority,
		"due":          it.Due,
		"tags":         it.Tags,
		"depends_on":   it.DependsOn,
		"note":         it.Note,
		"created_at":   it.CreatedAt,
		"updated_at":   it.UpdatedAt,
		"completed_at": it.CompletedAt,
		"overdue":      isOverdue(it, time.Now()),
	}
}

func isOverdue(it *Item, now time.Time) bool {
	if !isOpenStatus(it.Status) || it.Due == "" {
		return false
	}
	due, err := parseDueDatetime(it.Due)
	if err != nil {
		return false
	}
	return due.Before(now)
}

// ---------------------------------------------------------------------------
// normalization
// ---------------------------------------------------------------------------

func normalizeTitle(v any) (string, error) {
	title := strings.TrimSpace(fmt.Sprintf("%v", orEmpty(v)))
	if title == "" {
		return "", fmt.Errorf("title is required")
	}
	return title, nil
}

func normalizeStatus(v any) (string, error) {
	status := strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", orEmpty(v))))
	if !isValidStatus(status) {
		return "", fmt.Errorf("status must be one of %v", validStatuses)
	}
	return status, nil
}

func normalizePriority(v any) (int, error) {
	n, ok := asInt(v)
	if !ok || n < 1 || n > 4 {
		return 0, fmt.Errorf("priority must be an integer in range 1..4")
	}
	return n, nil
}

func normalizeDue(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	text := strings.TrimSpace(fmt.Sprintf("%v", v))
	if text == "" {
		return "", nil
	}
	parsed, err := parseDueDatetime(text)
	if err != nil {
		return "", err
	}
	if dateOnlyRE.MatchString(text) {
		return text, nil
	}
	return parsed.Format("2006-01-02T15:04:05"), nil
}

func normalizeStringList(v any) ([]string, error) {
	if v == nil {
		return []string{}, nil
	}
	list, ok := v.([]any)
	if !ok {
		if strs, ok := v.([]string); ok {
			anys := make([]any, len(strs))
			for i, s := range strs {
				anys[i] = s
			}
			list = anys
		} else {
			return nil, fmt.Errorf("Expected a list of strings")
		}
	}
	var result []string
	seen := map[string]bool{}
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("Expected a list of strings")
		}
		clean := strings.TrimSpace(s)
		if clean == "" || seen[clean] {
			continue
		}
		seen[clean] = true
		result = append(result, clean)
	}
	if result == nil {
		result = []string{}
	}
	return result, nil
}

func normalizeID(v any, field string) (string, error) {
	text := strings.ToUpper(strings.TrimSpace(fmt.Sprintf("%v", orEmpty(v))))
	if text == "" {
		return "", fmt.Errorf("%s is required", field)
	}
	if !idPattern.MatchString(text) {
		return "", fmt.Errorf("%s must match pattern T####", field)
	}
	return text, nil
}

func normalizeIDList(v any, field string) ([]string, error) {
	if v == nil {
		return []string{}, nil
	}
	list, ok := v.([]any)
	if !ok {
		if strs, ok := v.([]string); ok {
			anys := make([]any, len(strs))
			for i, s := range strs {
				anys[i] = s
			}
			list = anys
		} else {
			return nil, fmt.Errorf("%s must be a list", field)
		}
	}
	var result []string
	seen := map[string]bool{}
	for _, item := range list {
		id, err := normalizeID(item, field)
		if err != nil {
			return nil, err
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		result = append(result, id)
	}
	if result == nil {
		result = []string{}
	}
	return result, nil
}

func normalizePatch(v any) (map[string]any, error) {
	if v == nil {
		return nil, fmt.Errorf("patch is required")
	}
	patch, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("patch must be an object")
	}
	if len(patch) == 0 {
		return nil, fmt.Errorf("patch must not be empty")
	}
	return patch, nil
}

// ---------------------------------------------------------------------------
// date parsing
// ---------------------------------------------------------------------------

var dateOnlyRE = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// parseDueDatetime accepts a date (interpreted as end of day) or a datetime.
func parseDueDatetime(value string) (time.Time, error) {
	text := strings.TrimSpace(value)
	if dateOnlyRE.MatchString(text) {
		d, err := time.ParseInLocation("2006-01-02", text, time.Local)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid date %q: %v", text, err)
		}
		return d.Add(23*time.Hour + 59*time.Minute + 59*time.Second), nil
	}
	return parseGeneralDatetime(text)
}

func parseGeneralDatetime(value string) (time.Time, error) {
	text := strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t.Local(), nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", text, time.Local); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid datetime %q", text)
}

func generalTimestamp(value string) float64 {
	if value == "" {
		return 0
	}
	t, err := parseGeneralDatetime(value)
	if err != nil {
		return 0
	}
	return float64(t.Unix())
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}

func orEmpty(v any) any {
	if v == nil {
		return ""
	}
	return v
}

func okResult(summary string, items []map[string]any, stats map[string]any) Result {
	if items == nil {
		items = []map[string]any{}
	}
	if stats == nil {
		stats = map[string]any{}
	}
	return Result{OK: true, Summary: summary, Items: items, Stats: stats, Errors: []string{}}
}

func errResult(action, message string) Result {
	return Result{
		OK: false, Action: action, Summary: message,
		Items: []map[string]any{}, Stats: map[string]any{}, Errors: []string{message},
	}
}
