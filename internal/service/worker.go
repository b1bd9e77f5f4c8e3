package service

import (
	"context"

	"github.com/unclebandit/broadcast-service/internal/model"
)

// Worker owns every recipient it receives: all channels of a recipient are
// processed by the same worker.
type Worker struct {
	ID      int
	Jobs    <-chan model.Recipient
	Process func(ctx context.Context, rec model.Recipient)
}

// Constructor
func NewWorker(id int, jobs <-chan model.Recipient, process func(ctx context.Context, rec model.Recipient)) *Worker {
	return &Worker{
		ID:      id,
		Jobs:    jobs,
		Process: process,
	}
}

// Start processes jobs until the channel is closed. After ctx is done the
// remaining jobs are drained without processing.
func (w *Worker) Start(ctx context.Context) {
	for rec := range w.Jobs {
		if ctx.Err() != nil {
			continue
		}
		w.Process(ctx, rec)
	}
}
