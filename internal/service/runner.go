package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/askluigi/agentd/internal/cancel"
	"github.com/askluigi/agentd/internal/config"
	"github.com/askluigi/agentd/internal/domain/agent"
	"github.com/askluigi/agentd/internal/guard"
	agentport "github.com/askluigi/agentd/internal/port/agent"
	"github.com/askluigi/agentd/internal/port/broadcast"
	"github.com/askluigi/agentd/internal/port/messagequeue"
)

// RunnerService owns agent run orchestration: the single-run lock, the
// long-lived backend thread, the file guard, and translation of the
// backend's open event schema into the drawer's closed vocabulary.
//
// At most one run is in progress at any time; a second caller is turned
// away immediately rather than queued.
type RunnerService struct {
	client agentport.Client
	guard  *guard.Guard
	cancel *cancel.Signal
	queue  messagequeue.Queue    // optional; nil disables lifecycle publishing
	hub    broadcast.Broadcaster // optional
	cfg    config.Agent

	mu       sync.Mutex
	running  bool
	thread   agentport.Thread
	runCount int
}

// NewRunnerService creates a RunnerService. queue and hub may be nil.
func NewRunnerService(client agentport.Client, g *guard.Guard, sig *cancel.Signal, queue messagequeue.Queue, hub broadcast.Broadcaster, cfg config.Agent) *RunnerService {
	return &RunnerService{
		client: client,
		guard:  g,
		cancel: sig,
		queue:  queue,
		hub:    hub,
		cfg:    cfg,
	}
}

// TryAcquire takes the run lock. It never blocks.
func (s *RunnerService) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

// Release frees the run lock.
func (s *RunnerService) Release() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// InProgress reports whether a run currently holds the lock. Git
// operations consult this before touching the working tree.
func (s *RunnerService) InProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ThreadID returns the backend id of the active thread, or "".
func (s *RunnerService) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.thread == nil {
		return ""
	}
	return s.thread.ID()
}

// ResetThread closes the active thread so the next run starts a fresh
// conversation. Called after a deploy, when the merged tree no longer
// matches what the thread has seen.
func (s *RunnerService) ResetThread(ctx context.Context) {
	s.mu.Lock()
	t := s.thread
	s.thread = nil
	s.runCount = 0
	s.mu.Unlock()

	if t != nil {
		if err := t.Close(); err != nil {
			slog.WarnContext(ctx, "closing agent thread", "error", err)
		}
	}
}

// Cancel requests cooperative cancellation of the in-progress run. It is
// a no-op (but still succeeds) when no run is active.
func (s *RunnerService) Cancel(ctx context.Context) (bool, error) {
	active := s.InProgress()
	if err := s.cancel.Request(); err != nil {
		return false, fmt.Errorf("request cancel: %w", err)
	}
	slog.InfoContext(ctx, "cancel requested", "run_active", active)
	return active, nil
}

// Run executes one prompt against the agent backend and returns the
// event stream. The channel always ends with exactly one terminal event
// (done or error) and is then closed.
func (s *RunnerService) Run(ctx context.Context, prompt string) <-chan agent.Event {
	out := make(chan agent.Event, 64)

	if !s.TryAcquire() {
		out <- agent.Error("agent is already running, please wait")
		close(out)
		return out
	}

	go s.run(ctx, prompt, out)
	return out
}

// run drives one full run: idle -> starting -> streaming -> finalizing.
func (s *RunnerService) run(ctx context.Context, prompt string, out chan<- agent.Event) {
	defer close(out)
	defer s.Release()

	runID := uuid.NewString()
	startedAt := time.Now().UTC()
	log := slog.With("run_id", runID)

	// A stale flag from a previous process must not cancel this run.
	s.cancel.Clear()

	snap, err := s.guard.Snapshot()
	if err != nil {
		log.Error("guard snapshot failed", "error", err)
		s.emit(ctx, out, agent.Error("failed to snapshot protected files: "+err.Error()))
		return
	}

	s.publish(ctx, messagequeue.SubjectRunStarted, messagequeue.RunLifecyclePayload{
		RunID: runID, ThreadID: s.ThreadID(), Prompt: prompt, StartedAt: startedAt,
	})
	s.broadcastStatus(ctx, "started", "")

	thread, recycled, err := s.acquireThread(ctx)
	if err != nil {
		restored := s.guard.Restore(snap)
		log.Error("starting agent thread failed", "error", err)
		s.finishError(ctx, out, runID, prompt, startedAt, restored,
			"failed to start agent thread: "+err.Error())
		return
	}
	if recycled {
		s.emit(ctx, out, agent.Plan("Starting a fresh agent thread."))
	}
	s.emit(ctx, out, agent.Plan("Starting run..."))

	runCtx, abort := context.WithCancel(ctx)
	defer abort()
	s.cancel.Bind(abort)
	defer s.cancel.Unbind()

	raw, err := thread.Run(runCtx, guard.Preamble(s.cfg.EditablePaths)+prompt)
	if err != nil {
		s.dropThread(ctx, thread)
		restored := s.guard.Restore(snap)
		log.Error("submitting prompt failed", "error", err)
		s.finishError(ctx, out, runID, prompt, startedAt, restored,
			"failed to submit prompt: "+err.Error())
		return
	}

	runErr, canceled := s.stream(ctx, runCtx, thread, raw, out, log)

	// Finalize. Guard restore is unconditional and happens before the
	// terminal event so the stream never reports success over a
	// still-drifted tree.
	restored := s.guard.Restore(snap)
	for _, p := range restored {
		s.emit(ctx, out, agent.FileChange(p, agent.StatusRestored))
		s.broadcastFileChange(ctx, p, agent.StatusRestored)
	}
	if len(restored) > 0 {
		s.emit(ctx, out, agent.Message("Some protected files were modified and have been restored."))
		log.Warn("protected files restored", "count", len(restored), "paths", restored)
	}

	s.cancel.Clear()

	switch {
	case canceled:
		log.Info("run canceled", "elapsed", time.Since(startedAt))
		s.publish(ctx, messagequeue.SubjectRunCanceled, messagequeue.RunLifecyclePayload{
			RunID: runID, ThreadID: thread.ID(), Prompt: prompt, StartedAt: startedAt, Restored: restored,
		})
		s.broadcastStatus(ctx, "canceled", "")
		s.emit(ctx, out, agent.Error("run canceled"))
	case runErr != "":
		log.Error("run failed", "error", runErr, "elapsed", time.Since(startedAt))
		s.publish(ctx, messagequeue.SubjectRunFailed, messagequeue.RunLifecyclePayload{
			RunID: runID, ThreadID: thread.ID(), Prompt: prompt, StartedAt: startedAt, Error: runErr, Restored: restored,
		})
		s.broadcastStatus(ctx, "error", runErr)
		s.emit(ctx, out, agent.Error(runErr))
	default:
		s.mu.Lock()
		s.runCount++
		s.mu.Unlock()
		log.Info("run completed", "elapsed", time.Since(startedAt))
		s.publish(ctx, messagequeue.SubjectRunCompleted, messagequeue.RunLifecyclePayload{
			RunID: runID, ThreadID: thread.ID(), Prompt: prompt, StartedAt: startedAt, Restored: restored,
		})
		s.broadcastStatus(ctx, "done", "")
		s.emit(ctx, out, agent.Done())
	}
}

// stream forwards translated backend events until the raw channel
// closes, interleaving the heartbeat and the cancel poll.
func (s *RunnerService) stream(ctx, runCtx context.Context, thread agentport.Thread, raw <-chan agentport.RawEvent, out chan<- agent.Event, log *slog.Logger) (runErr string, canceled bool) {
	started := time.Now()
	lastEvent := time.Now()

	heartbeat := time.NewTicker(s.cfg.Heartbeat)
	defer heartbeat.Stop()
	poll := time.NewTicker(s.cfg.CancelPoll)
	defer poll.Stop()

	interrupted := false
	interrupt := func() {
		if interrupted {
			return
		}
		interrupted = true
		canceled = true
		if err := thread.Interrupt(ctx); err != nil {
			log.Warn("interrupting turn", "error", err)
		}
	}

	for {
		select {
		case re, ok := <-raw:
			if !ok {
				return runErr, canceled
			}
			lastEvent = time.Now()
			if re.Kind == "error" {
				// The error item ends the turn; whatever the backend
				// emits after it is not forwarded.
				runErr = re.Err
				for range raw {
				}
				return runErr, canceled
			}
			for _, ev := range translate(re) {
				s.emit(ctx, out, ev)
				if ev.Type == agent.TypeFileChange {
					s.broadcastFileChange(ctx, ev.Path, ev.Status)
				}
			}
			// The flag may have been set between polls; every event is
			// also a cancellation checkpoint.
			if s.cancel.Requested() {
				interrupt()
			}

		case <-heartbeat.C:
			if time.Since(lastEvent) < s.cfg.Heartbeat {
				continue
			}
			elapsed := int(time.Since(started).Seconds())
			s.emit(ctx, out, agent.Plan(fmt.Sprintf("Still working... (%ds elapsed)", elapsed)))

		case <-poll.C:
			if s.cancel.Requested() {
				interrupt()
			}

		case <-runCtx.Done():
			// Abort handle fired (or the client went away). Interrupt
			// and keep draining so the backend can wind down the turn.
			interrupt()
			for re := range raw {
				if re.Kind == "error" && runErr == "" {
					runErr = re.Err
				}
			}
			return runErr, canceled
		}
	}
}

// acquireThread returns the active thread, recycling it once it has
// served its maximum number of runs. Conversational context is lost on
// recycle, so the caller surfaces it in the stream.
func (s *RunnerService) acquireThread(ctx context.Context) (agentport.Thread, bool, error) {
	s.mu.Lock()
	thread := s.thread
	count := s.runCount
	s.mu.Unlock()

	recycled := false
	if thread != nil && count >= s.cfg.ThreadMaxRuns {
		slog.InfoContext(ctx, "recycling agent thread", "runs", count)
		if err := thread.Close(); err != nil {
			slog.WarnContext(ctx, "closing recycled thread", "error", err)
		}
		thread = nil
		recycled = true
	}

	if thread == nil {
		// The thread and its subprocess must outlive the request that
		// triggered this run; only Close and the recycle path end it.
		t, err := s.client.StartThread(context.WithoutCancel(ctx), agentport.Options{
			WorkingDirectory: s.cfg.WorkDir,
			Model:            s.cfg.Model,
			SandboxMode:      "workspaceWrite",
			SkipGitRepoCheck: true,
		})
		if err != nil {
			return nil, recycled, err
		}
		thread = t

		s.mu.Lock()
		s.thread = thread
		if recycled {
			s.runCount = 0
		}
		s.mu.Unlock()
	}

	return thread, recycled, nil
}

// dropThread discards the cached thread after a transport failure so the
// next run starts a fresh one instead of reusing a dead handle.
func (s *RunnerService) dropThread(ctx context.Context, t agentport.Thread) {
	s.mu.Lock()
	if s.thread == t {
		s.thread = nil
		s.runCount = 0
	}
	s.mu.Unlock()

	if err := t.Close(); err != nil {
		slog.WarnContext(ctx, "closing failed thread", "error", err)
	}
}

// translate maps one backend event to zero or more drawer events. This
// is the only place the vendor schema is interpreted; unknown kinds and
// item types fall through to nothing.
func translate(re agentport.RawEvent) []agent.Event {
	switch re.Kind {
	case "reasoning":
		if re.Text == "" {
			return nil
		}
		return []agent.Event{agent.Plan(re.Text)}

	case "item.completed":
		if re.Item == nil {
			return nil
		}
		switch re.Item.Type {
		case "agentMessage":
			if re.Item.Text == "" {
				return nil
			}
			return []agent.Event{agent.Message(re.Item.Text)}
		case "fileChange":
			var evs []agent.Event
			for _, ch := range re.Item.Changes {
				evs = append(evs, agent.FileChange(ch.Path, changeStatus(ch.Kind)))
			}
			return evs
		}
		return nil
	}
	return nil
}

// changeStatus maps the vendor's change kinds onto the drawer's statuses.
func changeStatus(kind string) string {
	switch kind {
	case "add":
		return agent.StatusCreated
	case "delete":
		return agent.StatusDeleted
	default:
		return agent.StatusModified
	}
}

// emit forwards one event unless the consumer is gone.
func (s *RunnerService) emit(ctx context.Context, out chan<- agent.Event, ev agent.Event) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}

// finishError closes out a run that failed before streaming started.
func (s *RunnerService) finishError(ctx context.Context, out chan<- agent.Event, runID, prompt string, startedAt time.Time, restored []string, msg string) {
	s.cancel.Clear()
	s.publish(ctx, messagequeue.SubjectRunFailed, messagequeue.RunLifecyclePayload{
		RunID: runID, Prompt: prompt, StartedAt: startedAt, Error: msg, Restored: restored,
	})
	s.broadcastStatus(ctx, "error", msg)
	s.emit(ctx, out, agent.Error(msg))
}

func (s *RunnerService) publish(ctx context.Context, subject string, payload messagequeue.RunLifecyclePayload) {
	if s.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "marshal lifecycle payload", "error", err)
		return
	}
	if err := s.queue.Publish(ctx, subject, data); err != nil {
		slog.WarnContext(ctx, "publish lifecycle event", "subject", subject, "error", err)
	}
}

func (s *RunnerService) broadcastStatus(ctx context.Context, status, msg string) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastEvent(ctx, "run.status", map[string]string{"status": status, "message": msg})
}

func (s *RunnerService) broadcastFileChange(ctx context.Context, path, status string) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastEvent(ctx, "run.file_change", map[string]string{"path": path, "status": status})
}
