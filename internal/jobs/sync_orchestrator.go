package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/sta-electricity/outagesync/internal/api"
	"github.com/sta-electricity/outagesync/internal/client"
	"github.com/sta-electricity/outagesync/internal/database"
	"github.com/sta-electricity/outagesync/internal/services"
	"github.com/sta-electricity/outagesync/internal/utils"
)

// SyncAPI is the part of the outagesync API the orchestrator drives.
type SyncAPI interface {
	GenerateIncidents(ctx context.Context, kind string, req api.TestDataRequest) (*api.TestDataResponse, error)
	TriggerSync(ctx context.Context, source string) (*api.SyncResponse, error)
}

// OrchestratorState is the observable phase of the control loop.
type OrchestratorState string

const (
	StateRunning        OrchestratorState = "running"
	StateGeneratingLoad OrchestratorState = "generating_load"
	StateSyncing        OrchestratorState = "syncing"
	StateSleeping       OrchestratorState = "sleeping"
	StateStopped        OrchestratorState = "stopped"
)

// CountRange is an inclusive range of incidents generated per cycle.
type CountRange struct {
	Min, Max int
}

// OrchestratorConfig holds the loop cadence and limits.
type OrchestratorConfig struct {
	CycleInterval time.Duration
	ErrorCooldown time.Duration
	PermitDelay   time.Duration
	RetryStep     time.Duration
	MaxAttempts   uint
	MaxPermits    int64

	// ShutdownGrace lets in-flight calls finish after cancellation.
	ShutdownGrace time.Duration

	// LoadCounts maps a generator kind to the incidents generated per cycle.
	LoadCounts map[string]CountRange

	Channels []database.Channel

	// Rand picks scenarios and counts. Nil uses a randomly seeded source.
	Rand *rand.Rand
}

// DefaultOrchestratorConfig returns the production cadence.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		CycleInterval: 30 * time.Second,
		ErrorCooldown: 10 * time.Second,
		PermitDelay:   500 * time.Millisecond,
		RetryStep:     time.Second,
		MaxAttempts:   3,
		MaxPermits:    3,
		ShutdownGrace: 5 * time.Second,
		LoadCounts: map[string]CountRange{
			"cabin": {Min: 2, Max: 7},
			"cable": {Min: 2, Max: 5},
		},
		Channels: database.Channels(),
	}
}

// CycleReport summarizes one cycle.
type CycleReport struct {
	Cycle        int64
	LoadFailures int
	SyncFailures int
	Panics       int
	Synced       map[string]*api.SyncResponse
}

// SyncOrchestrator repeatedly generates synthetic load and triggers a sync
// of every channel until its context is cancelled.
type SyncOrchestrator struct {
	api    SyncAPI
	config OrchestratorConfig
	sem    *semaphore.Weighted
	state  atomic.Value
	cycles atomic.Int64

	randMu sync.Mutex
	rng    *rand.Rand
}

// NewSyncOrchestrator creates an orchestrator calling syncAPI.
func NewSyncOrchestrator(syncAPI SyncAPI, config OrchestratorConfig) *SyncOrchestrator {
	if config.MaxAttempts == 0 {
		config.MaxAttempts = 1
	}
	if config.MaxPermits <= 0 {
		config.MaxPermits = 1
	}
	rng := config.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	o := &SyncOrchestrator{
		api:    syncAPI,
		config: config,
		sem:    semaphore.NewWeighted(config.MaxPermits),
		rng:    rng,
	}
	o.state.Store(StateStopped)
	return o
}

// State returns the current loop phase.
func (o *SyncOrchestrator) State() OrchestratorState {
	return o.state.Load().(OrchestratorState)
}

// Cycles returns the number of cycles started.
func (o *SyncOrchestrator) Cycles() int64 {
	return o.cycles.Load()
}

func (o *SyncOrchestrator) setState(s OrchestratorState) {
	o.state.Store(s)
}

// Run loops until ctx is cancelled. A failed or panicking cycle is followed
// by ErrorCooldown instead of CycleInterval.
func (o *SyncOrchestrator) Run(ctx context.Context) {
	log.Printf("SyncOrchestrator: Starting (interval: %v, channels: %d)", o.config.CycleInterval, len(o.config.Channels))
	defer func() {
		o.setState(StateStopped)
		log.Printf("SyncOrchestrator: Stopped after %d cycles", o.Cycles())
	}()

	for ctx.Err() == nil {
		wait := o.config.CycleInterval
		if _, err := o.runCycleSafe(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("SyncOrchestrator: Cycle %d failed: %v", o.Cycles(), err)
			wait = o.config.ErrorCooldown
		}

		o.setState(StateSleeping)
		if err := utils.SleepContext(ctx, wait); err != nil {
			return
		}
	}
}

func (o *SyncOrchestrator) runCycleSafe(ctx context.Context) (report *CycleReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in cycle: %v", r)
		}
	}()
	return o.RunCycle(ctx)
}

// RunCycle generates load for every channel, waits for all load tasks, then
// triggers a sync of every channel. Per-channel failures are logged and
// counted in the report; the error reports cancellation or panicking tasks.
func (o *SyncOrchestrator) RunCycle(ctx context.Context) (*CycleReport, error) {
	report := &CycleReport{
		Cycle:  o.cycles.Add(1),
		Synced: make(map[string]*api.SyncResponse),
	}
	o.setState(StateRunning)
	log.Printf("SyncOrchestrator: Cycle %d started", report.Cycle)

	callCtx, cancelCalls := o.graceContext(ctx)
	defer cancelCalls()

	var mu sync.Mutex
	fail := func(counter *int, err error) {
		mu.Lock()
		*counter++
		if errors.Is(err, errTaskPanicked) {
			report.Panics++
		}
		mu.Unlock()
	}

	o.setState(StateGeneratingLoad)
	var load errgroup.Group
	for _, ch := range o.config.Channels {
		req := o.loadRequest(ch)
		load.Go(func() error {
			err := o.withPermit(ctx, func() error {
				_, err := callWithRetry(ctx, o, fmt.Sprintf("generate %s", ch.GeneratorKind), func() (*api.TestDataResponse, error) {
					return o.api.GenerateIncidents(callCtx, ch.GeneratorKind, req)
				})
				return err
			})
			if err != nil {
				fail(&report.LoadFailures, err)
				log.Printf("SyncOrchestrator: Failed to generate %s incidents: %v", ch.GeneratorKind, err)
				return nil
			}
			log.Printf("SyncOrchestrator: Generated %d %s incidents (%s scenario)", req.Count, ch.GeneratorKind, req.Scenario)
			return nil
		})
	}
	load.Wait()
	if err := ctx.Err(); err != nil {
		return report, err
	}

	o.setState(StateSyncing)
	var syncs errgroup.Group
	for _, ch := range o.config.Channels {
		syncs.Go(func() error {
			var resp *api.SyncResponse
			err := o.withPermit(ctx, func() error {
				var err error
				resp, err = callWithRetry(ctx, o, "sync source "+ch.Source, func() (*api.SyncResponse, error) {
					return o.api.TriggerSync(callCtx, ch.Source)
				})
				return err
			})
			if err != nil {
				fail(&report.SyncFailures, err)
				log.Printf("SyncOrchestrator: Sync of source %s failed: %v", ch.Source, err)
				return nil
			}
			mu.Lock()
			report.Synced[ch.Source] = resp
			mu.Unlock()
			log.Printf("SyncOrchestrator: Source %s synced: %d created, %d closed, %d details",
				ch.Source, resp.CreatedIncidents, resp.ClosedIncidents, resp.InsertedDetails)
			return nil
		})
	}
	syncs.Wait()
	if err := ctx.Err(); err != nil {
		return report, err
	}

	if report.Panics > 0 {
		return report, fmt.Errorf("%d tasks panicked", report.Panics)
	}
	log.Printf("SyncOrchestrator: Cycle %d completed (%d load failures, %d sync failures)",
		report.Cycle, report.LoadFailures, report.SyncFailures)
	return report, nil
}

var errTaskPanicked = errors.New("task panicked")

// withPermit holds one permit for fn, then waits PermitDelay after releasing it.
func (o *SyncOrchestrator) withPermit(ctx context.Context, fn func() error) error {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", errTaskPanicked, r)
			}
		}()
		return fn()
	}()
	o.sem.Release(1)
	if sleepErr := utils.SleepContext(ctx, o.config.PermitDelay); sleepErr != nil && err == nil {
		return sleepErr
	}
	return err
}

// graceContext is cancelled ShutdownGrace after ctx, so calls already in
// flight when shutdown starts can complete.
func (o *SyncOrchestrator) graceContext(ctx context.Context) (context.Context, context.CancelFunc) {
	callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	var timer *time.Timer
	var timerMu sync.Mutex
	stop := context.AfterFunc(ctx, func() {
		timerMu.Lock()
		timer = time.AfterFunc(o.config.ShutdownGrace, cancel)
		timerMu.Unlock()
	})
	return callCtx, func() {
		stop()
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
		cancel()
	}
}

func (o *SyncOrchestrator) loadRequest(ch database.Channel) api.TestDataRequest {
	o.randMu.Lock()
	defer o.randMu.Unlock()

	scenarios := services.Scenarios()
	scenario := scenarios[o.rng.IntN(len(scenarios))]

	r, ok := o.config.LoadCounts[ch.GeneratorKind]
	if !ok || r.Min < 1 {
		r = CountRange{Min: 1, Max: max(r.Max, 1)}
	}
	count := r.Min
	if r.Max > r.Min {
		count += o.rng.IntN(r.Max - r.Min + 1)
	}
	return api.TestDataRequest{Count: count, Scenario: string(scenario)}
}

// callWithRetry retries transient transport failures up to MaxAttempts,
// waiting attempt*RetryStep between tries. Application failures and
// cancellation stop immediately.
func callWithRetry[T any](ctx context.Context, o *SyncOrchestrator, op string, call func() (T, error)) (T, error) {
	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		res, err := call()
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil || !client.IsTransient(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	},
		backoff.WithBackOff(utils.NewLinearBackOff(o.config.RetryStep)),
		backoff.WithMaxTries(o.config.MaxAttempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Printf("SyncOrchestrator: %s attempt %d failed, retrying in %v: %v", op, attempt, wait, err)
		}),
	)
}
