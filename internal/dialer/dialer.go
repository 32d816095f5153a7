package dialer

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/itf-gmbh/phone-agent/internal/clock"
	"github.com/itf-gmbh/phone-agent/internal/consent"
	"github.com/itf-gmbh/phone-agent/internal/observability/metrics"
	"github.com/itf-gmbh/phone-agent/internal/telephony"
	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

// Status is the dialer lifecycle state.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
)

// Dialer-level outcomes. Answered calls carry the conversation outcome
// instead.
const (
	OutcomeNoAnswer  = "no_answer"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
	OutcomeNoConsent = "no_consent"
	OutcomeCompleted = "completed"
)

// ConsentGate checks whether a patient may be called.
type ConsentGate interface {
	CheckAll(ctx context.Context, tenantID, subjectID uuid.UUID, types []consent.Type) (bool, error)
}

// ConversationRunner drives the dialogue on an answered call and returns
// its outcome.
type ConversationRunner interface {
	RunCall(ctx context.Context, call *telephony.Call, queued QueuedCall) (string, error)
}

// Config bounds the dialer.
type Config struct {
	CallsPerMinute     int
	MaxConcurrentCalls int
	RingTimeout        time.Duration
	DrainTimeout       time.Duration
}

func (c Config) withDefaults() Config {
	if c.CallsPerMinute <= 0 {
		c.CallsPerMinute = 10
	}
	if c.MaxConcurrentCalls <= 0 {
		c.MaxConcurrentCalls = 3
	}
	if c.RingTimeout <= 0 {
		c.RingTimeout = 25 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
	return c
}

// Stats is a point-in-time view of the dialer.
type Stats struct {
	Status            Status     `json:"status"`
	QueueSize         int        `json:"queue_size"`
	ActiveCalls       int        `json:"active_calls"`
	CompletedToday    int        `json:"completed_today"`
	BusinessHoursOpen bool       `json:"business_hours_active"`
	NextBusinessStart *time.Time `json:"next_business_start,omitempty"`
}

// Dialer pulls calls off the priority queue and places them through the
// SIP client.
type Dialer struct {
	cfg     Config
	sip     telephony.SIPClient
	hours   clock.BusinessHours
	clk     clock.Clock
	logger  *logging.Logger
	gate    ConsentGate
	runner  ConversationRunner
	metrics *metrics.CallMetrics
	limiter *rate.Limiter
	sem     *semaphore.Weighted

	mu             sync.Mutex
	queue          callQueue
	deferred       []*QueuedCall
	status         Status
	seq            uint64
	active         int
	completedToday int
	completedDay   string

	wake chan struct{}
	wg   sync.WaitGroup
}

func New(cfg Config, sip telephony.SIPClient, hours clock.BusinessHours, clk clock.Clock, logger *logging.Logger) *Dialer {
	cfg = cfg.withDefaults()
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dialer{
		cfg:     cfg,
		sip:     sip,
		hours:   hours,
		clk:     clk,
		logger:  logger.WithComponent("dialer"),
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.CallsPerMinute)/60.0), 1),
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrentCalls)),
		status:  StatusStopped,
		wake:    make(chan struct{}, 1),
	}
}

// WithConsentGate refuses to dial patients without valid phone and AI
// processing consent.
func (d *Dialer) WithConsentGate(gate ConsentGate) *Dialer {
	d.gate = gate
	return d
}

// WithRunner sets the conversation driver for answered calls.
func (d *Dialer) WithRunner(runner ConversationRunner) *Dialer {
	d.runner = runner
	return d
}

func (d *Dialer) WithMetrics(m *metrics.CallMetrics) *Dialer {
	d.metrics = m
	return d
}

// QueueCall adds a call to the queue and returns its id. Calls are
// accepted in any dialer state; they dial once the dialer runs.
func (d *Dialer) QueueCall(call QueuedCall) uuid.UUID {
	if call.CallID == uuid.Nil {
		call.CallID = uuid.New()
	}
	call.QueuedAt = d.clk.Now()

	d.mu.Lock()
	d.seq++
	call.seq = d.seq
	if call.ScheduledAt != nil && call.ScheduledAt.After(call.QueuedAt) {
		d.deferred = append(d.deferred, &call)
	} else {
		heap.Push(&d.queue, &call)
	}
	d.mu.Unlock()

	d.logger.Info("call queued",
		"call_id", call.CallID,
		"call_type", call.CallType,
		"priority", call.Priority.String())
	d.signal()
	return call.CallID
}

// CancelCall removes a call that has not started dialing yet. Returns
// false when the call is unknown, already dialing, or already cancelled.
func (d *Dialer) CancelCall(callID uuid.UUID) bool {
	d.mu.Lock()
	var cancelled *QueuedCall
	for i, qc := range d.queue {
		if qc.CallID == callID {
			cancelled = d.queue.remove(i)
			break
		}
	}
	if cancelled == nil {
		for i, qc := range d.deferred {
			if qc.CallID == callID {
				cancelled = qc
				d.deferred = append(d.deferred[:i], d.deferred[i+1:]...)
				break
			}
		}
	}
	d.mu.Unlock()

	if cancelled == nil {
		return false
	}
	d.logger.Info("call cancelled", "call_id", callID)
	d.deliver(cancelled, Result{
		CallID:    cancelled.CallID,
		PatientID: cancelled.PatientID,
		CallType:  cancelled.CallType,
		Outcome:   OutcomeCancelled,
	})
	return true
}

// ClearQueue cancels every queued call and returns how many were
// removed. In-flight calls are not touched.
func (d *Dialer) ClearQueue() int {
	d.mu.Lock()
	removed := make([]*QueuedCall, 0, len(d.queue)+len(d.deferred))
	for d.queue.Len() > 0 {
		removed = append(removed, heap.Pop(&d.queue).(*QueuedCall))
	}
	removed = append(removed, d.deferred...)
	d.deferred = nil
	d.mu.Unlock()

	for _, qc := range removed {
		d.deliver(qc, Result{
			CallID:    qc.CallID,
			PatientID: qc.PatientID,
			CallType:  qc.CallType,
			Outcome:   OutcomeCancelled,
		})
	}
	if len(removed) > 0 {
		d.logger.Info("queue cleared", "removed", len(removed))
	}
	return len(removed)
}

// Snapshot returns the queued calls in dial order.
func (d *Dialer) Snapshot() []QueuedCall {
	d.mu.Lock()
	out := make([]QueuedCall, 0, len(d.queue)+len(d.deferred))
	for _, qc := range d.queue {
		out = append(out, *qc)
	}
	for _, qc := range d.deferred {
		out = append(out, *qc)
	}
	d.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		if !out[i].QueuedAt.Equal(out[j].QueuedAt) {
			return out[i].QueuedAt.Before(out[j].QueuedAt)
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// Stats reports the current dialer state.
func (d *Dialer) Stats() Stats {
	now := d.clk.Now()
	open, next := d.hours.MayDial(now)

	d.mu.Lock()
	d.rollDayLocked(now)
	s := Stats{
		Status:            d.status,
		QueueSize:         len(d.queue) + len(d.deferred),
		ActiveCalls:       d.active,
		CompletedToday:    d.completedToday,
		BusinessHoursOpen: open,
	}
	d.mu.Unlock()

	if !open {
		s.NextBusinessStart = &next
	}
	return s
}

// Start launches the dispatch loop. No-op when already running or
// paused.
func (d *Dialer) Start(ctx context.Context) {
	d.mu.Lock()
	if d.status != StatusStopped {
		d.mu.Unlock()
		return
	}
	d.status = StatusRunning
	d.mu.Unlock()

	d.logger.Info("dialer started",
		"calls_per_minute", d.cfg.CallsPerMinute,
		"max_concurrent", d.cfg.MaxConcurrentCalls)
	go d.run(ctx)
}

// Pause stops dispatching new calls. In-flight calls continue.
func (d *Dialer) Pause() {
	d.mu.Lock()
	if d.status == StatusRunning {
		d.status = StatusPaused
	}
	d.mu.Unlock()
	d.logger.Info("dialer paused")
}

// Resume continues dispatching after Pause.
func (d *Dialer) Resume() {
	d.mu.Lock()
	if d.status == StatusPaused {
		d.status = StatusRunning
	}
	d.mu.Unlock()
	d.logger.Info("dialer resumed")
	d.signal()
}

// Stop halts dispatch, waits up to the drain timeout for in-flight calls,
// then cancels whatever is still queued so every callback fires.
func (d *Dialer) Stop() {
	d.mu.Lock()
	d.status = StatusStopped
	d.mu.Unlock()
	d.signal()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d.cfg.DrainTimeout):
		d.logger.Warn("drain timeout, calls still in flight")
	}

	cancelled := d.ClearQueue()
	d.logger.Info("dialer stopped", "cancelled", cancelled)
}

// Status returns the lifecycle state.
func (d *Dialer) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *Dialer) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dialer) run(ctx context.Context) {
	for {
		if err := ctx.Err(); err != nil {
			return
		}
		d.mu.Lock()
		status := d.status
		d.mu.Unlock()
		if status == StatusStopped {
			return
		}
		if status == StatusPaused {
			if !d.sleep(ctx, time.Second) {
				return
			}
			continue
		}

		now := d.clk.Now()
		d.promoteDeferred(now)

		open, next := d.hours.MayDial(now)
		if !open {
			wait := time.Until(next)
			if wait <= 0 || wait > time.Minute {
				wait = time.Minute
			}
			if !d.sleep(ctx, wait) {
				return
			}
			continue
		}

		d.mu.Lock()
		empty := d.queue.Len() == 0
		d.mu.Unlock()
		if empty {
			if !d.sleep(ctx, time.Second) {
				return
			}
			continue
		}

		if err := d.limiter.Wait(ctx); err != nil {
			return
		}
		if err := d.sem.Acquire(ctx, 1); err != nil {
			return
		}

		d.mu.Lock()
		if d.status != StatusRunning || d.queue.Len() == 0 {
			d.mu.Unlock()
			d.sem.Release(1)
			continue
		}
		qc := heap.Pop(&d.queue).(*QueuedCall)
		d.active++
		d.mu.Unlock()

		d.wg.Add(1)
		go d.execute(ctx, qc)
	}
}

// sleep waits for the duration, a wake signal, or cancellation. Returns
// false when the context is done.
func (d *Dialer) sleep(ctx context.Context, dur time.Duration) bool {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-d.wake:
		return true
	case <-timer.C:
		return true
	}
}

// promoteDeferred moves scheduled calls whose time has come onto the
// live queue.
func (d *Dialer) promoteDeferred(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.deferred[:0]
	for _, qc := range d.deferred {
		if qc.ScheduledAt == nil || !qc.ScheduledAt.After(now) {
			heap.Push(&d.queue, qc)
		} else {
			kept = append(kept, qc)
		}
	}
	d.deferred = kept
}

func (d *Dialer) execute(ctx context.Context, qc *QueuedCall) {
	defer d.wg.Done()
	defer d.sem.Release(1)

	started := d.clk.Now()
	result := d.placeCall(ctx, qc)

	now := d.clk.Now()
	d.mu.Lock()
	d.active--
	d.rollDayLocked(now)
	d.completedToday++
	queueDepth := len(d.queue) + len(d.deferred)
	d.mu.Unlock()

	var seconds float64
	if result.Answered {
		seconds = now.Sub(started).Seconds()
	}
	d.metrics.ObserveCall(qc.CallType, result.Outcome, seconds)
	d.metrics.SetQueueDepth(queueDepth)

	d.logger.Info("call finished",
		"call_id", qc.CallID,
		"call_type", qc.CallType,
		"answered", result.Answered,
		"outcome", result.Outcome)
	d.deliver(qc, result)
}

func (d *Dialer) placeCall(ctx context.Context, qc *QueuedCall) Result {
	result := Result{CallID: qc.CallID, PatientID: qc.PatientID, CallType: qc.CallType}

	if d.gate != nil {
		allowed, err := d.gate.CheckAll(ctx, qc.TenantID, qc.PatientID, consent.RequiredForCall())
		if err != nil {
			result.Outcome = OutcomeError
			result.Err = err
			return result
		}
		if !allowed {
			result.Outcome = OutcomeNoConsent
			return result
		}
	}

	call, err := d.sip.Originate(ctx, telephony.OriginateRequest{
		Destination: qc.Phone,
		RingTimeout: d.cfg.RingTimeout,
		Metadata:    qc.Metadata,
	})
	if err != nil {
		result.Outcome = OutcomeError
		result.Err = err
		return result
	}

	answered, err := d.sip.WaitForAnswer(ctx, call.ID, d.cfg.RingTimeout)
	if err != nil {
		d.sip.Hangup(ctx, call.ID)
		result.Outcome = OutcomeError
		result.Err = err
		return result
	}
	if !answered {
		d.sip.Hangup(ctx, call.ID)
		result.Outcome = OutcomeNoAnswer
		return result
	}
	result.Answered = true

	if d.runner == nil {
		d.sip.Hangup(ctx, call.ID)
		result.Outcome = OutcomeCompleted
		return result
	}

	outcome, err := d.runner.RunCall(ctx, call, *qc)
	d.sip.Hangup(ctx, call.ID)
	if err != nil {
		result.Outcome = OutcomeError
		result.Err = err
		return result
	}
	if outcome == "" {
		outcome = OutcomeCompleted
	}
	result.Outcome = outcome
	return result
}

// rollDayLocked resets the daily counter when the local calendar day
// changes. Caller holds d.mu.
func (d *Dialer) rollDayLocked(now time.Time) {
	day := now.In(d.hours.Location()).Format("2006-01-02")
	if day != d.completedDay {
		d.completedDay = day
		d.completedToday = 0
	}
}

func (d *Dialer) deliver(qc *QueuedCall, result Result) {
	if qc.Callback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("call callback panicked", "call_id", qc.CallID, "panic", r)
		}
	}()
	qc.Callback(result)
}
