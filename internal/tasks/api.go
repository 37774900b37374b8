package tasks

import (
	"context"

	gtasks "google.golang.org/api/tasks/v1"
)

// taskAPI is the subset of the Google Tasks API the provider uses.
type taskAPI interface {
	Insert(ctx context.Context, list string, task *gtasks.Task) (*gtasks.Task, error)
	ListOpen(ctx context.Context, list string) ([]*gtasks.Task, error)
	Delete(ctx context.Context, list, id string) error
}

type googleTaskAPI struct {
	srv *gtasks.Service
}

func (g googleTaskAPI) Insert(ctx context.Context, list string, task *gtasks.Task) (*gtasks.Task, error) {
	return g.srv.Tasks.Insert(list, task).Context(ctx).Do()
}

func (g googleTaskAPI) ListOpen(ctx context.Context, list string) ([]*gtasks.Task, error) {
	var out []*gtasks.Task
	err := g.srv.Tasks.List(list).
		ShowCompleted(false).
		ShowHidden(false).
		MaxResults(100).
		Pages(ctx, func(page *gtasks.Tasks) error {
			out = append(out, page.Items...)
			return nil
		})
	return out, err
}

func (g googleTaskAPI) Delete(ctx context.Context, list, id string) error {
	return g.srv.Tasks.Delete(list, id).Context(ctx).Do()
}
