// Package mock provides an in-memory task tracker for tests.
package mock

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/scrumscribe/internal/tracker"
)

// Tracker is an in-memory tracker.Source and tracker.Updater.
type Tracker struct {
	mu sync.Mutex

	// Tasks is the catalog. OpenTasks filters it by assignee.
	Tasks []tracker.Task

	// Errs makes OpenTasks fail for the given assignee.
	Errs map[string]error

	// OpenTasksCalls records the assignee of every OpenTasks call.
	OpenTasksCalls []string

	// Updates records every UpdateStatus as "id=status".
	Updates []string
}

var (
	_ tracker.Source  = (*Tracker)(nil)
	_ tracker.Updater = (*Tracker)(nil)
)

// OpenTasks returns the tasks assigned to assignee, or all of them for "".
func (t *Tracker) OpenTasks(_ context.Context, assignee string) ([]tracker.Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.OpenTasksCalls = append(t.OpenTasksCalls, assignee)
	if err := t.Errs[assignee]; err != nil {
		return nil, err
	}
	var out []tracker.Task
	for _, task := range t.Tasks {
		if assignee == "" || slices.Contains(task.Assignees, assignee) {
			out = append(out, task)
		}
	}
	return out, nil
}

// UpdateStatus sets the status of the task with id.
func (t *Tracker) UpdateStatus(_ context.Context, id, status string) (*tracker.Task, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.Tasks {
		if t.Tasks[i].ID == id {
			t.Tasks[i].Status = status
			t.Updates = append(t.Updates, id+"="+status)
			cp := t.Tasks[i]
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("mock tracker: task %q not found", id)
}

// Calls returns a copy of OpenTasksCalls.
func (t *Tracker) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.OpenTasksCalls)
}
