// Package captioner runs the background captioning job: a resumable loop
// that walks the job queue one image at a time, asks the trainer backend for
// a caption, and folds the result into the state store.
package captioner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ComfyAssets/kiko-trainer-sub001/internal/store"
	"github.com/ComfyAssets/kiko-trainer-sub001/internal/trainer"
	"github.com/ComfyAssets/kiko-trainer-sub001/pkg/models"
)

// Runner drives at most one captioning loop per store instance. Starting
// while a job is running is a no-op, which keeps duplicate queues impossible.
type Runner struct {
	store  *store.Store
	client trainer.Client

	mu     sync.Mutex
	active bool
}

func New(st *store.Store, client trainer.Client) *Runner {
	return &Runner{store: st, client: client}
}

// Start begins a new job over the current image collection. Returns false if
// a job is already running.
func (r *Runner) Start(ctx context.Context, params models.CaptionConfig) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return false
	}
	if !r.store.BeginCaptionJob(params) {
		return false
	}
	r.active = true
	go r.loop(ctx)
	return true
}

// Resume re-enters the loop for a job rehydrated in Running state, picking up
// at the persisted queue position. Returns false if there is nothing to
// resume or a loop is already active.
func (r *Runner) Resume(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return false
	}
	if !r.store.Snapshot().CaptionJob.Running {
		return false
	}
	r.active = true
	go r.loop(ctx)
	return true
}

// Cancel requests cooperative cancellation. The item in flight still
// completes; the loop observes the flag at the next iteration boundary.
func (r *Runner) Cancel() {
	r.store.RequestCaptionCancel()
}

// Active reports whether a loop goroutine is currently running.
func (r *Runner) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *Runner) loop(ctx context.Context) {
	defer func() {
		r.mu.Lock()
		r.active = false
		r.mu.Unlock()
	}()

	for {
		job := r.store.Snapshot().CaptionJob
		if !job.Running {
			return
		}
		if job.Current >= job.Total || job.CancelRequested {
			r.store.ResetCaptionJob()
			return
		}

		id := job.Queue[job.Current]
		if _, ok := r.store.Image(id); ok {
			if _, err := r.CaptionImage(ctx, id, job.Params); err != nil {
				if ctx.Err() != nil {
					// Shutdown interrupted the item, it didn't fail.
					// Leave the position so a resume retries it.
					return
				}
				// Per-item failures keep the previous caption and the
				// loop moves on.
				slog.Warn("captioning failed, keeping existing caption",
					"image_id", id, "position", job.Current, "error", err)
			}
		}
		r.store.AdvanceCaptionJob()

		// Iteration boundary: give cancellation via context a chance
		// before the next item.
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// CaptionImage requests a caption for a single image and, on success, writes
// it into the store. Used by the loop and by the one-off caption endpoint.
func (r *Runner) CaptionImage(ctx context.Context, id string, params models.CaptionConfig) (string, error) {
	img, ok := r.store.Image(id)
	if !ok {
		return "", store.ErrImageNotFound
	}
	data, err := r.store.ImageBytes(id)
	if err != nil {
		return "", fmt.Errorf("reading image %s: %w", id, err)
	}
	captions, err := r.client.Caption(ctx, trainer.CaptionRequest{
		Params: params,
		Images: []trainer.ImageFile{{Name: img.Filename, Data: data}},
	})
	if err != nil {
		return "", err
	}
	caption := captions[0]
	r.store.SetImageCaption(id, caption)
	return caption, nil
}
