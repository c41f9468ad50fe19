// Package tracker defines the task-tracker collaborator used to fetch the
// catalog of open tasks a speaker may have talked about.
package tracker

import "context"

// Task is one tracked work item.
type Task struct {
	ID          string
	Title       string
	Description string
	URL         string
	Status      string
	Assignees   []string
}

// Source lists open tasks. An empty assignee returns the whole open catalog.
type Source interface {
	OpenTasks(ctx context.Context, assignee string) ([]Task, error)
}

// Updater changes the workflow status of a task and returns the updated task.
type Updater interface {
	UpdateStatus(ctx context.Context, taskID, status string) (*Task, error)
}
