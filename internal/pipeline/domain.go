// Package pipeline wires signal intake, the behavioral profiler, the
// state tracker, the decision engine, remediation memory, the
// escalation protocol and the playbook queue into one coherent agent:
// the pipeline domain. Every mutation to shared agent state (state
// tracker records, memory stats, the pending-action set, ticket
// bookkeeping, cooldown/batch maps) happens behind Domain's single
// mutex, matching the serialized "pipeline domain" concurrency unit;
// the playbook executor runs as its own sequential goroutine,
// consuming the queue this domain feeds (executor_loop.go).
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/octoreflex/remediation-agent/internal/config"
	"github.com/octoreflex/remediation-agent/internal/escalation"
	"github.com/octoreflex/remediation-agent/internal/maintenance"
	"github.com/octoreflex/remediation-agent/internal/memory"
	"github.com/octoreflex/remediation-agent/internal/pending"
	"github.com/octoreflex/remediation-agent/internal/profiler"
	"github.com/octoreflex/remediation-agent/internal/queue"
	"github.com/octoreflex/remediation-agent/internal/runbook"
	"github.com/octoreflex/remediation-agent/internal/signal"
	"github.com/octoreflex/remediation-agent/internal/signature"
	"github.com/octoreflex/remediation-agent/internal/state"
	"github.com/octoreflex/remediation-agent/internal/store"
	"github.com/octoreflex/remediation-agent/internal/telemetry"
	"github.com/octoreflex/remediation-agent/internal/ticket"
)

// Sender is the subset of transport.Client the domain needs to deliver
// outbound escalations; satisfied by *transport.Client, faked in tests.
type Sender interface {
	Send(msgType string, body any) error
	Connected() bool
}

// executionContext is the bookkeeping carried alongside a queued
// PlaybookTask so the executor loop's result handler can record a
// memory attempt and re-escalate a failed Class A run without the
// queue itself needing to know about runbooks or signatures.
type executionContext struct {
	rb          *runbook.Runbook
	ticketID    string
	signature   signature.Signature
	localClassA bool
}

// Domain is the pipeline domain: C1 (via HandleSignal's caller
// normalizing raw observations), C2-C9 gating and decision-making, and
// the C10 queue's admission side. The executor side of C10 lives in
// executor_loop.go; C11 inbound dispatch lives in inbound.go; operator
// overrides live in operator.go.
type Domain struct {
	mu sync.Mutex

	deviceID string
	tenantID string
	env      escalation.EnvironmentTags

	log     *zap.Logger
	metrics *telemetry.Metrics

	hysteresis *signal.Hysteresis
	maintGate  *maintenance.Gate
	tracker    *state.Tracker
	profiler   *profiler.Profiler
	runbooks   *runbook.Registry
	mem        *memory.Memory
	thresholds runbook.Thresholds

	escalationEngine *escalation.Engine
	escCfg           escalation.Config

	queue             *queue.Queue
	executor          *queue.Executor
	executionContext  map[string]executionContext

	transport Sender

	pendingStore *pending.Store
	ledger       *store.Ledger
	fs           *store.FileStore

	tickets map[string]*ticket.ActionTicket

	// signatures caches the full Signature behind every ticket's
	// signature_id, keyed in-memory only: it lets a later server
	// decision or pending-action replay rebuild an executionContext
	// without re-deriving the signature from a signal the agent no
	// longer has in hand.
	signatures map[string]signature.Signature

	ignoreList    []IgnoreEntry
	exclusionList []ExclusionEntry

	recentActions map[string][]string // signature_id -> last few outcome lines

	queueWake chan struct{}

	sustainedBreachCycles         int
	reescalationConfidenceCeiling float64
	reinvestigationExecutionCount int
}

// Deps bundles every already-constructed collaborator NewDomain needs.
// cmd/remediation-agent/main.go builds these from config.Config and
// wires them together; Domain owns none of their lifecycles except the
// in-process ones it creates itself (tracker, profiler, hysteresis,
// runbook registry, escalation engine, queue, executor).
type Deps struct {
	Config    *config.Config
	FS        *store.FileStore
	Ledger    *store.Ledger
	Metrics   *telemetry.Metrics
	Log       *zap.Logger
	Transport Sender
}

// NewDomain constructs a Domain and loads every persisted state file
// (remediation memory, pending actions, tickets, ignore/exclusion
// lists) from disk via Deps.FS.
func NewDomain(d Deps) (*Domain, error) {
	cfg := d.Config

	mem, err := memory.New(memory.Config{
		MinAttempts:                       cfg.Memory.MinAttempts,
		DampenAfterConsecutiveFailures:    cfg.Memory.DampenAfterConsecutiveFailures,
		ProblematicSuccessRate:            cfg.Memory.ProblematicSuccessRate,
		CachedSolutionSignalSuccessRate:   cfg.Memory.CachedSolutionSignalSuccessRate,
		CachedSolutionPlaybookSuccessRate: cfg.Memory.CachedSolutionPlaybookSuccessRate,
		AttemptRetentionDays:              cfg.Memory.AttemptRetentionDays,
	}, d.FS, d.Log)
	if err != nil {
		return nil, err
	}

	pendingStore, err := pending.New(d.FS, d.Log)
	if err != nil {
		return nil, err
	}

	tracker := state.New(state.Config{
		FlapWindow:                cfg.State.FlapWindow,
		FlapThreshold:             cfg.State.FlapThreshold,
		QuietPeriod:               cfg.State.QuietPeriod,
		PersistenceEscalation:     cfg.State.PersistenceEscalation,
		DependencyRefreshInterval: cfg.State.DependencyRefreshInterval,
	}, nil)

	dom := &Domain{
		deviceID: cfg.DeviceID,
		tenantID: cfg.TenantID,
		env: escalation.EnvironmentTags{
			OSBuild:          cfg.Environment.OSBuild,
			OSVersion:        cfg.Environment.OSVersion,
			DeviceModelClass: cfg.Environment.DeviceModelClass,
		},
		log:     d.Log,
		metrics: d.Metrics,

		hysteresis: signal.NewHysteresis(),
		tracker:    tracker,
		profiler: profiler.New(profiler.Config{
			MinBucketsForConfidence: cfg.Profiler.MinBucketsForConfidence,
			StdDevThreshold:         cfg.Profiler.StdDevThreshold,
			Ceilings: profiler.Ceilings{
				CPUPercent:      cfg.Profiler.CPUCeiling,
				MemoryPercent:   cfg.Profiler.MemoryCeiling,
				DiskFreePercent: cfg.Profiler.DiskFreeFloor,
			},
		}),
		mem: mem,
		thresholds: runbook.Thresholds{
			ClassA: cfg.Decision.ClassAThreshold,
			ClassB: cfg.Decision.ClassBThreshold,
			ClassC: cfg.Decision.ClassCThreshold,
		},

		escCfg: escalation.Config{
			Cooldown:           cfg.Escalation.Cooldown,
			BatchWindow:        cfg.Escalation.BatchWindow,
			DiagnosticsTimeout: cfg.Escalation.DiagnosticsTimeout,
			HMACSecret:         cfg.Escalation.HMACSecret,
		},

		queue:            queue.New(cfg.Queue.Capacity),
		executionContext: make(map[string]executionContext),

		transport: d.Transport,

		pendingStore: pendingStore,
		ledger:       d.Ledger,
		fs:           d.FS,

		tickets:    make(map[string]*ticket.ActionTicket),
		signatures: make(map[string]signature.Signature),

		recentActions: make(map[string][]string),

		queueWake: make(chan struct{}, 1),

		sustainedBreachCycles:         cfg.Signal.SustainedBreachCycles,
		reescalationConfidenceCeiling: cfg.Decision.ReescalationConfidenceCeiling,
		reinvestigationExecutionCount: cfg.Queue.ReinvestigationExecutionCount,
	}
	dom.escalationEngine = escalation.New(dom.escCfg, nil, d.Log)
	dom.executor = queue.NewExecutor(queue.NewShellRunner(), d.Log)

	registry := runbook.NewRegistry()
	registry.Load(runbook.Builtins())
	var cached []*runbook.Runbook
	_ = d.FS.LoadJSON(store.FileServerRunbooks, &cached)
	if len(cached) > 0 {
		registry.Load(cached)
	}
	dom.runbooks = registry

	dom.maintGate = maintenance.New(func(w maintenance.Window) {
		dom.tracker.ClearMatching(func(resourceID string) bool {
			return windowMatchesResource(w, resourceID)
		})
	})

	if err := dom.loadLists(); err != nil {
		return nil, err
	}
	if err := dom.loadTickets(); err != nil {
		return nil, err
	}

	return dom, nil
}

// Run starts the domain's own background timers (the sequential
// playbook executor and the escalation batch-flush timer) and blocks
// until ctx is canceled.
func (d *Domain) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		d.RunExecutorLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		d.RunBatchFlush(ctx, d.escCfg.BatchWindow)
	}()
	go func() {
		defer wg.Done()
		d.RunQuietSweep(ctx, time.Minute)
	}()
	wg.Wait()
}

func (d *Domain) loadTickets() error {
	tickets := make(map[string]*ticket.ActionTicket)
	if err := d.fs.LoadJSON(store.FileTickets, &tickets); err != nil {
		return err
	}
	d.tickets = tickets
	return nil
}

// persistTicket records t in the in-memory ticket table and
// atomically re-persists the whole table. Callers must already hold
// d.mu.
func (d *Domain) persistTicket(t *ticket.ActionTicket) {
	d.tickets[t.TicketID] = t
	if err := d.fs.SaveJSON(store.FileTickets, d.tickets); err != nil {
		d.log.Error("pipeline: ticket persistence failed", zap.Error(err))
	}
}

func (d *Domain) ticketForSignatureLocked(signatureID string) *ticket.ActionTicket {
	for _, t := range d.tickets {
		if t.SignatureID == signatureID {
			return t
		}
	}
	return nil
}

func (d *Domain) wakeExecutor() {
	select {
	case d.queueWake <- struct{}{}:
	default:
	}
}

func newTicketID() string { return uuid.NewString() }
func newTaskID() string   { return uuid.NewString() }
