package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/nightjarhq/runwatch/internal/logger"
	"github.com/nightjarhq/runwatch/internal/metrics"
)

// LaunchFunc starts a run for a due schedule and returns the run id.
type LaunchFunc func(ctx context.Context, schedule *Schedule) (string, error)

// Runner fires due schedules once a minute.
type Runner struct {
	store  *Store
	launch LaunchFunc
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// in-flight launches per schedule, for overlap handling
	running   map[string]int
	runningMu sync.Mutex
}

// NewRunner creates a schedule runner.
func NewRunner(store *Store, launch LaunchFunc) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		store:   store,
		launch:  launch,
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[string]int),
	}
}

// Start begins the scheduler loop.
func (r *Runner) Start() {
	r.wg.Add(1)
	go r.loop()
	logger.Info("schedule runner started")
}

// Stop stops the runner and waits for in-flight launches.
func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()
	logger.Info("schedule runner stopped")
}

func (r *Runner) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	// Check immediately on start.
	r.checkDue()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.checkDue()
		}
	}
}

func (r *Runner) checkDue() {
	now := time.Now()
	schedules, err := r.store.ListDue(now)
	if err != nil {
		logger.Error("failed to list due schedules: %v", err)
		return
	}

	for _, schedule := range schedules {
		r.fire(schedule)
	}
}

// fire launches one due schedule, respecting its overlap behavior.
func (r *Runner) fire(schedule *Schedule) {
	r.runningMu.Lock()
	if schedule.Overlap != OverlapParallel && r.running[schedule.ID] > 0 {
		r.runningMu.Unlock()
		logger.Info("skipping schedule %s (%s): previous launch still running", schedule.ID, schedule.Name)
		metrics.ScheduledRunsLaunched.WithLabelValues(string(LaunchSkipped)).Inc()
		r.recordOutcome(&Launch{
			ScheduleID: schedule.ID,
			Status:     LaunchSkipped,
			Error:      "previous launch still running",
		})
		r.advance(schedule, time.Now())
		return
	}
	r.running[schedule.ID]++
	r.runningMu.Unlock()

	// Launch off the ticker goroutine so a slow upstream can't stall
	// other due schedules.
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.runningMu.Lock()
			r.running[schedule.ID]--
			if r.running[schedule.ID] == 0 {
				delete(r.running, schedule.ID)
			}
			r.runningMu.Unlock()
		}()

		r.execute(schedule)
	}()
}

func (r *Runner) execute(schedule *Schedule) {
	now := time.Now()
	logger.Info("launching schedule %s (%s) for agent %s", schedule.ID, schedule.Name, schedule.AgentID)

	runID, err := r.launch(r.ctx, schedule)
	if err != nil {
		logger.Error("failed to launch schedule %s: %v", schedule.ID, err)
		metrics.ScheduledRunsLaunched.WithLabelValues(string(LaunchFailed)).Inc()
		r.recordOutcome(&Launch{
			ScheduleID: schedule.ID,
			Status:     LaunchFailed,
			Error:      err.Error(),
		})
	} else {
		logger.Info("schedule %s launched run %s", schedule.ID, runID)
		metrics.ScheduledRunsLaunched.WithLabelValues(string(LaunchOK)).Inc()
		r.recordOutcome(&Launch{
			ScheduleID: schedule.ID,
			RunID:      runID,
			Status:     LaunchOK,
		})
	}

	r.advance(schedule, now)
}

// advance moves the schedule's fire times forward.
func (r *Runner) advance(schedule *Schedule, firedAt time.Time) {
	nextRun, err := NextRun(schedule.CronExpr, firedAt)
	if err != nil {
		logger.Error("failed to compute next run for schedule %s: %v", schedule.ID, err)
		return
	}
	if err := r.store.UpdateRunTimes(schedule.ID, firedAt, nextRun); err != nil {
		logger.Error("failed to update run times for schedule %s: %v", schedule.ID, err)
	}
}

func (r *Runner) recordOutcome(launch *Launch) {
	if err := r.store.RecordLaunch(launch); err != nil {
		logger.Error("failed to record launch for schedule %s: %v", launch.ScheduleID, err)
	}
}

// InFlight returns the number of running launches for a schedule.
func (r *Runner) InFlight(scheduleID string) int {
	r.runningMu.Lock()
	defer r.runningMu.Unlock()
	return r.running[scheduleID]
}

// TriggerNow fires a schedule immediately without touching its cron
// bookkeeping.
func (r *Runner) TriggerNow(schedule *Schedule) (string, error) {
	logger.Info("manually triggering schedule %s (%s)", schedule.ID, schedule.Name)
	return r.launch(r.ctx, schedule)
}
