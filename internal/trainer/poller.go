package trainer

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ComfyAssets/kiko-trainer-sub001/pkg/models"
)

// trainingState is the slice of the state store the poller mutates.
type trainingState interface {
	UpdateTraining(fn func(*models.TrainingStatus))
	AppendTrainingLog(lines ...string)
}

// stepRe matches kohya-style progress counters like "592/1600" in log output.
var stepRe = regexp.MustCompile(`(\d+)/(\d+)`)

// Poller periodically fetches a run's status and log tail from the trainer
// backend and folds them into the state store. At most one watch loop per
// Poller is active at a time.
type Poller struct {
	client Client
	state  trainingState
	period time.Duration

	mu     sync.Mutex
	active bool
}

func NewPoller(client Client, state trainingState, period time.Duration) *Poller {
	return &Poller{client: client, state: state, period: period}
}

// Watch starts polling the given run in a background goroutine. Returns false
// if a watch loop is already running.
func (p *Poller) Watch(ctx context.Context, runID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		return false
	}
	p.active = true
	go p.run(ctx, runID)
	return true
}

func (p *Poller) run(ctx context.Context, runID string) {
	defer func() {
		p.mu.Lock()
		p.active = false
		p.mu.Unlock()
	}()

	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	var seen string
	for {
		if done := p.poll(ctx, runID, &seen); done {
			return
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// poll fetches one status/log sample. Returns true when the run has reached a
// terminal state.
func (p *Poller) poll(ctx context.Context, runID string, seen *string) bool {
	res, err := p.client.TrainingLogs(ctx, runID)
	if err != nil {
		// A flaky backend degrades individual samples only.
		slog.Warn("training log poll failed", "run_id", runID, "error", err)
		return ctx.Err() != nil
	}

	delta := logDelta(*seen, res.Logs)
	*seen = res.Logs
	if lines := splitLines(delta); len(lines) > 0 {
		p.state.AppendTrainingLog(lines...)
	}

	running := res.Status == "running" || res.Status == "stopping" || res.Status == "prepared"
	step, total, hasStep := lastStepCounter(delta)
	p.state.UpdateTraining(func(ts *models.TrainingStatus) {
		ts.Running = running
		ts.RunID = runID
		ts.StatusText = res.Status
		if hasStep {
			ts.Step = step
			ts.TotalSteps = total
		}
	})
	return !running
}

// logDelta returns the portion of cur not yet seen. The backend serves a
// bounded tail, so when old is no longer a prefix the whole sample is new.
func logDelta(old, cur string) string {
	if old == "" {
		return cur
	}
	if strings.HasPrefix(cur, old) {
		return cur[len(old):]
	}
	return cur
}

func splitLines(s string) []string {
	var lines []string
	for _, l := range strings.Split(s, "\n") {
		l = strings.TrimRight(l, "\r")
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// lastStepCounter extracts the last "N/M" progress counter from a log chunk.
func lastStepCounter(s string) (step, total int, ok bool) {
	matches := stepRe.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return 0, 0, false
	}
	m := matches[len(matches)-1]
	step, err1 := strconv.Atoi(m[1])
	total, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil || total == 0 || step > total {
		return 0, 0, false
	}
	return step, total, true
}
