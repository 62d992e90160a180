// Package poller drives fixed-interval status checks for an automation task
// on behalf of a caller that wants a stream of updates instead of polling by
// hand.
package poller

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pmb2/Social-Genius-sub006/domain"
	"github.com/pmb2/Social-Genius-sub006/services"
)

// DefaultInterval is the time between two status checks.
const DefaultInterval = 2 * time.Second

// estimateCeiling is the highest progress value the local estimator will
// report. Only a terminal status from the server moves progress past it.
const estimateCeiling = 90

// TaskClient is the slice of the task API the poller needs. Satisfied by
// *services.TaskService in-process and by an HTTP client against the task
// endpoints.
type TaskClient interface {
	GetStatus(ctx context.Context, taskID string) (*services.TaskStatusView, error)
	TerminateTask(ctx context.Context, taskID string) (*services.TerminationResult, error)
}

// Update is one observation of the watched task. Exactly one terminal Update
// is delivered before the channel closes.
type Update struct {
	Status   domain.TaskStatus
	Progress int
	Error    string
	Terminal bool
}

// Poller watches automation tasks at a fixed interval.
type Poller struct {
	tasks    TaskClient
	interval time.Duration
}

// New creates a Poller. An interval of zero selects DefaultInterval.
func New(tasks TaskClient, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{tasks: tasks, interval: interval}
}

// Watch is one in-flight observation of a task.
type Watch struct {
	taskID  string
	tasks   TaskClient
	updates chan Update
	stop    context.CancelFunc
	done    chan struct{}
}

// Updates returns the observation stream. The channel closes after the
// terminal update, after Cancel, or when the watch context ends.
func (w *Watch) Updates() <-chan Update {
	return w.updates
}

// Cancel stops local polling and asks the server to terminate the task. The
// two are independent: even if the termination call fails, no further updates
// are delivered.
func (w *Watch) Cancel(ctx context.Context) error {
	w.stop()
	<-w.done
	_, err := w.tasks.TerminateTask(ctx, w.taskID)
	return err
}

// Start begins watching a task. Polling runs until a terminal status is
// observed, the watch is cancelled, or ctx ends.
func (p *Poller) Start(ctx context.Context, taskID string) *Watch {
	pollCtx, stop := context.WithCancel(ctx)
	w := &Watch{
		taskID:  taskID,
		tasks:   p.tasks,
		updates: make(chan Update, 1),
		stop:    stop,
		done:    make(chan struct{}),
	}
	go p.run(pollCtx, taskID, w)
	return w
}

func (p *Poller) run(ctx context.Context, taskID string, w *Watch) {
	defer close(w.done)
	defer close(w.updates)
	defer w.stop()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// The estimate advances a little on every poll that brings no server
	// progress, so a caller rendering a progress bar sees movement while the
	// worker is between checkpoints.
	estimate := 0
	for {
		view, err := p.tasks.GetStatus(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("task_id", taskID).Msg("status poll failed")
		} else {
			update := p.buildUpdate(view, &estimate)
			select {
			case w.updates <- update:
			case <-ctx.Done():
				return
			}
			if update.Terminal {
				return
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller) buildUpdate(view *services.TaskStatusView, estimate *int) Update {
	if view.Status.Terminal() {
		progress := view.Progress
		if view.Status == domain.TaskStatusSuccess {
			progress = 100
		}
		return Update{Status: view.Status, Progress: progress, Error: view.Error, Terminal: true}
	}
	if view.Progress > *estimate {
		*estimate = view.Progress
	} else if *estimate < estimateCeiling {
		*estimate++
	}
	if *estimate > estimateCeiling {
		*estimate = estimateCeiling
	}
	return Update{Status: view.Status, Progress: *estimate, Error: view.Error}
}
