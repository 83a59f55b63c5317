package sim

import (
	"log"
	"sync"
	"time"

	"driftline/server/internal/journal"
	"driftline/server/logging"
)

const (
	// CommandRejectQueueLimit indicates a command was dropped due to per-actor
	// queue throttling.
	CommandRejectQueueLimit = "queue_limit"
	// CommandRejectQueueFull indicates the global command buffer is saturated.
	CommandRejectQueueFull = "queue_full"
)

// LoopConfig tunes the command buffer and tick loop orchestration.
type LoopConfig struct {
	TickRate        int
	CatchupMaxTicks int
	CommandCapacity int
	PerActorLimit   int
	WarningStep     int
}

// LoopTickContext carries the timing of one loop iteration.
type LoopTickContext struct {
	Tick  uint64
	Now   time.Time
	Delta float64
}

// LoopStepResult is the broadcast-ready outcome of one advanced tick.
type LoopStepResult struct {
	Tick          uint64
	Now           time.Time
	Delta         float64
	Snapshot      Snapshot
	Commands      []Command
	Acks          []CommandAck
	Rejections    []CommandRejection
	Corrections   []Correction
	Grants        []GrantUpdate
	RemovedActors []string
	Duration      time.Duration
	Budget        time.Duration
	ClampedDelta  bool
	MaxDelta      float64
}

// LoopHooks lets the hub observe and steer the loop without the loop
// depending on transport types.
type LoopHooks struct {
	Prepare        func(LoopTickContext)
	NextTick       func() uint64
	AfterStep      func(LoopStepResult)
	OnCommandDrop  func(reason string, cmd Command)
	OnQueueWarning func(length int)
}

// Loop coordinates command ingestion and the fixed-timestep simulation
// runner.
type Loop struct {
	core    EngineCore
	buffer  *CommandBuffer
	hooks   LoopHooks
	config  LoopConfig
	logger  *log.Logger
	metrics telemetryMetrics

	queueMu       sync.Mutex
	perActorCount map[string]int
	dropCounts    map[string]uint64
}

// NewLoop wraps the provided engine core with a ring-buffer queue and loop.
func NewLoop(core EngineCore, cfg LoopConfig, hooks LoopHooks) *Loop {
	if core == nil {
		return nil
	}
	deps := core.Deps()
	var metrics telemetryMetrics
	if deps.Metrics != nil {
		metrics = deps.Metrics
	}
	return &Loop{
		core:          core,
		buffer:        NewCommandBuffer(cfg.CommandCapacity, metrics),
		hooks:         hooks,
		config:        cfg,
		logger:        deps.Logger,
		metrics:       metrics,
		perActorCount: make(map[string]int),
		dropCounts:    make(map[string]uint64),
	}
}

// Deps returns the injected dependencies for the underlying engine.
func (l *Loop) Deps() Deps {
	if l == nil {
		return Deps{}
	}
	return l.core.Deps()
}

// Apply delegates to the underlying engine.
func (l *Loop) Apply(cmds []Command) error {
	if l == nil {
		return nil
	}
	return l.core.Apply(cmds)
}

// Step delegates to the underlying engine.
func (l *Loop) Step() {
	if l == nil {
		return
	}
	l.core.Step()
}

// Snapshot delegates to the underlying engine.
func (l *Loop) Snapshot() Snapshot {
	if l == nil {
		return Snapshot{}
	}
	return l.core.Snapshot()
}

// DrainPatches delegates to the underlying engine.
func (l *Loop) DrainPatches() []journal.Patch {
	if l == nil {
		return nil
	}
	return l.core.DrainPatches()
}

// SnapshotPatches delegates to the underlying engine.
func (l *Loop) SnapshotPatches() []journal.Patch {
	if l == nil {
		return nil
	}
	return l.core.SnapshotPatches()
}

// RestorePatches delegates to the underlying engine.
func (l *Loop) RestorePatches(patches []journal.Patch) {
	if l == nil {
		return
	}
	l.core.RestorePatches(patches)
}

// ConsumeResyncHint delegates to the underlying engine.
func (l *Loop) ConsumeResyncHint() (journal.ResyncSignal, bool) {
	if l == nil {
		return journal.ResyncSignal{}, false
	}
	return l.core.ConsumeResyncHint()
}

// RecordKeyframe delegates to the underlying engine.
func (l *Loop) RecordKeyframe(frame journal.Keyframe) journal.KeyframeRecordResult {
	if l == nil {
		return journal.KeyframeRecordResult{}
	}
	return l.core.RecordKeyframe(frame)
}

// KeyframeBySequence delegates to the underlying engine.
func (l *Loop) KeyframeBySequence(sequence uint64) (journal.Keyframe, bool) {
	if l == nil {
		return journal.Keyframe{}, false
	}
	return l.core.KeyframeBySequence(sequence)
}

// KeyframeWindow delegates to the underlying engine.
func (l *Loop) KeyframeWindow() (int, uint64, uint64) {
	if l == nil {
		return 0, 0, 0
	}
	return l.core.KeyframeWindow()
}

// Pending reports the number of staged commands.
func (l *Loop) Pending() int {
	if l == nil {
		return 0
	}
	return l.buffer.Len()
}

// DrainCommands clears the staged command queue without advancing the
// engine.
func (l *Loop) DrainCommands() []Command {
	if l == nil {
		return nil
	}
	return l.drainCommands()
}

// Enqueue stages a command, enforcing per-actor throttling and capacity
// limits.
func (l *Loop) Enqueue(cmd Command) (bool, string) {
	if l == nil {
		return false, CommandRejectQueueFull
	}
	reason := ""
	var dropCount uint64
	l.queueMu.Lock()
	if l.config.PerActorLimit > 0 && cmd.ActorID != "" {
		count := l.perActorCount[cmd.ActorID]
		if count >= l.config.PerActorLimit {
			reason = CommandRejectQueueLimit
			dropCount = l.incrementDropLocked(cmd.ActorID)
		} else {
			l.perActorCount[cmd.ActorID] = count + 1
		}
	}
	if reason == "" {
		if !l.buffer.Push(cmd) {
			reason = CommandRejectQueueFull
			dropCount = l.incrementDropLocked(cmd.ActorID)
		} else if l.config.WarningStep > 0 {
			length := l.buffer.Len()
			if length >= l.config.WarningStep && length%l.config.WarningStep == 0 {
				l.queueMu.Unlock()
				l.warnQueue(length)
				return true, ""
			}
		}
	}
	l.queueMu.Unlock()
	if reason != "" {
		l.reportDrop(reason, cmd, dropCount)
		return false, reason
	}
	return true, ""
}

// Advance executes a single simulation step using the staged commands.
func (l *Loop) Advance(ctx LoopTickContext) LoopStepResult {
	if l == nil {
		return LoopStepResult{}
	}
	commands := l.drainCommands()
	if l.hooks.Prepare != nil {
		l.hooks.Prepare(ctx)
	}
	_ = l.core.Apply(commands)
	l.core.Step()
	return LoopStepResult{
		Tick:          ctx.Tick,
		Now:           ctx.Now,
		Delta:         ctx.Delta,
		Snapshot:      l.core.Snapshot(),
		Commands:      commands,
		Acks:          l.core.DrainAcks(),
		Rejections:    l.core.DrainRejections(),
		Corrections:   l.core.DrainCorrections(),
		Grants:        l.core.DrainGrants(),
		RemovedActors: l.core.RemovedActors(),
	}
}

// Run drives the fixed-timestep loop until the stop channel closes.
func (l *Loop) Run(stop <-chan struct{}) {
	if l == nil {
		return
	}
	tickRate := l.config.TickRate
	if tickRate <= 0 {
		tickRate = 15
	}
	ticker := time.NewTicker(time.Second / time.Duration(tickRate))
	defer ticker.Stop()

	clock := l.core.Deps().Clock
	if clock == nil {
		clock = logging.SystemClock{}
	}
	last := clock.Now()
	budgetSeconds := 1.0 / float64(tickRate)
	maxDt := budgetSeconds
	if l.config.CatchupMaxTicks > 1 {
		maxDt = budgetSeconds * float64(l.config.CatchupMaxTicks)
	}
	budgetDuration := time.Second / time.Duration(tickRate)

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now := clock.Now()
			dt := now.Sub(last).Seconds()
			clamped := false
			if dt <= 0 {
				dt = budgetSeconds
			} else if dt > maxDt {
				dt = maxDt
				clamped = true
			}
			last = now

			var tick uint64
			if l.hooks.NextTick != nil {
				tick = l.hooks.NextTick()
			}

			start := clock.Now()
			result := l.Advance(LoopTickContext{Tick: tick, Now: now, Delta: dt})
			result.Duration = clock.Now().Sub(start)
			result.Budget = budgetDuration
			result.ClampedDelta = clamped
			result.MaxDelta = maxDt

			if l.hooks.AfterStep != nil {
				l.hooks.AfterStep(result)
			}
		}
	}
}

func (l *Loop) drainCommands() []Command {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	commands := l.buffer.Drain()
	if len(l.perActorCount) > 0 {
		l.perActorCount = make(map[string]int)
	}
	return commands
}

func (l *Loop) incrementDropLocked(actorID string) uint64 {
	if actorID == "" {
		return 0
	}
	count := l.dropCounts[actorID] + 1
	l.dropCounts[actorID] = count
	return count
}

func (l *Loop) warnQueue(length int) {
	if l.hooks.OnQueueWarning != nil {
		l.hooks.OnQueueWarning(length)
	}
}

func (l *Loop) reportDrop(reason string, cmd Command, count uint64) {
	if l.hooks.OnCommandDrop != nil {
		l.hooks.OnCommandDrop(reason, cmd)
	}
	if reason == CommandRejectQueueLimit && count > 0 && count&(count-1) == 0 {
		if l.logger != nil {
			l.logger.Printf(
				"[backpressure] dropping command actor=%s type=%s count=%d limit=%d",
				cmd.ActorID,
				cmd.Type,
				count,
				l.config.PerActorLimit,
			)
		}
	}
}

// Ensure Loop implements Engine.
var _ Engine = (*Loop)(nil)
