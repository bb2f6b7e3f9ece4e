// Package cooldown detects Claude subscription rate limits and pauses all
// agent invocations until the cooldown period expires, preventing wasted
// retries and spammy failure notifications when an account hits its usage cap.
package cooldown

import (
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultCooldownMinutes is the default pause duration once activated.
	DefaultCooldownMinutes = 60
	// DefaultConsecutiveThreshold is the failure count within the window
	// that triggers an automatic activation.
	DefaultConsecutiveThreshold = 3
	// DefaultFailureWindowSeconds bounds how far back failures count
	// toward the threshold.
	DefaultFailureWindowSeconds = 300
)

// State is a point-in-time snapshot of cooldown status.
type State struct {
	Active           bool
	ExpiresAt        time.Time
	RemainingMinutes int
	UserMessage      string
}

// Callback is fired on activate/deactivate transitions. It runs in its own
// goroutine and errors are logged, never propagated.
type Callback func()

// Manager tracks consecutive rate-limit failures within a time window and
// activates a cooldown period when the threshold is reached. Grounded on
// nightwire's rate_limit_cooldown.CooldownManager; Go's goroutine+timer
// combo replaces asyncio.Task scheduling.
type Manager struct {
	mu sync.Mutex

	enabled             bool
	cooldownMinutes     int
	consecutiveThresh   int
	failureWindow       time.Duration
	log                 *zap.Logger

	active      bool
	expiresAt   time.Time
	failures    []time.Time
	resumeTimer *time.Timer

	onActivate   []Callback
	onDeactivate []Callback
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithCooldownMinutes overrides DefaultCooldownMinutes.
func WithCooldownMinutes(m int) Option { return func(mgr *Manager) { mgr.cooldownMinutes = m } }

// WithConsecutiveThreshold overrides DefaultConsecutiveThreshold.
func WithConsecutiveThreshold(n int) Option {
	return func(mgr *Manager) { mgr.consecutiveThresh = n }
}

// WithFailureWindow overrides DefaultFailureWindowSeconds.
func WithFailureWindow(d time.Duration) Option {
	return func(mgr *Manager) { mgr.failureWindow = d }
}

// Disabled turns off cooldown entirely: rate-limit failures are not counted
// and Activate does nothing.
func Disabled() Option { return func(mgr *Manager) { mgr.enabled = false } }

// New constructs a Manager with defaults, overridable via opts.
func New(log *zap.Logger, opts ...Option) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	mgr := &Manager{
		enabled:           true,
		cooldownMinutes:   DefaultCooldownMinutes,
		consecutiveThresh: DefaultConsecutiveThreshold,
		failureWindow:     DefaultFailureWindowSeconds * time.Second,
		log:               log,
	}
	for _, opt := range opts {
		opt(mgr)
	}
	return mgr
}

// OnActivate registers a callback fired (in its own goroutine) when cooldown
// activates.
func (m *Manager) OnActivate(cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onActivate = append(m.onActivate, cb)
}

// OnDeactivate registers a callback fired (in its own goroutine) when
// cooldown deactivates.
func (m *Manager) OnDeactivate(cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDeactivate = append(m.onDeactivate, cb)
}

// IsActive reports whether cooldown is currently in effect.
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// GetState returns a snapshot of the current cooldown state.
func (m *Manager) GetState() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return State{Active: false}
	}

	remaining := int(time.Until(m.expiresAt) / time.Minute)
	if remaining < 0 {
		remaining = 0
	}

	return State{
		Active:           true,
		ExpiresAt:        m.expiresAt,
		RemainingMinutes: remaining,
		UserMessage: "Claude is in cooldown mode (~" + strconv.Itoa(remaining) + " min remaining). " +
			"The account has hit its rate limit. Commands will auto-resume " +
			"when the cooldown expires, or use /cooldown clear to override.",
	}
}

// RecordRateLimitFailure records a rate-limit failure and activates cooldown
// if the consecutive-failure threshold is reached within the window.
func (m *Manager) RecordRateLimitFailure() {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return
	}

	now := time.Now()
	m.failures = append(m.failures, now)

	cutoff := now.Add(-m.failureWindow)
	pruned := m.failures[:0]
	for _, ts := range m.failures {
		if !ts.Before(cutoff) {
			pruned = append(pruned, ts)
		}
	}
	m.failures = pruned

	shouldActivate := len(m.failures) >= m.consecutiveThresh && !m.active
	count := len(m.failures)
	m.mu.Unlock()

	if shouldActivate {
		m.log.Warn("cooldown_threshold_reached",
			zap.Int("failures", count),
			zap.Int("threshold", m.consecutiveThresh),
			zap.Duration("window", m.failureWindow),
		)
		m.doActivate(0)
	}
}

// Activate explicitly activates cooldown for minutes (or the configured
// default when minutes is 0). Called via the `/cooldown test` command
// (manager.CooldownTest); classified rate-limit failures go through
// RecordRateLimitFailure instead.
func (m *Manager) Activate(minutes int) {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.doActivate(minutes)
}

func (m *Manager) doActivate(minutes int) {
	if minutes <= 0 {
		minutes = m.cooldownMinutes
	}
	dur := time.Duration(minutes) * time.Minute

	m.mu.Lock()
	m.active = true
	m.expiresAt = time.Now().Add(dur)
	m.failures = nil
	if m.resumeTimer != nil {
		m.resumeTimer.Stop()
	}
	m.resumeTimer = time.AfterFunc(dur, m.autoResume)
	callbacks := append([]Callback(nil), m.onActivate...)
	expiresAt := m.expiresAt
	m.mu.Unlock()

	m.log.Warn("cooldown_activated", zap.Int("cooldown_minutes", minutes), zap.Time("expires_at", expiresAt))
	m.fireCallbacks(callbacks, "activate")
}

// Deactivate clears cooldown and resumes agent operations. Called by the
// auto-resume timer or `/cooldown clear`.
func (m *Manager) Deactivate() {
	m.mu.Lock()
	wasActive := m.active
	m.active = false
	m.expiresAt = time.Time{}
	m.failures = nil
	if m.resumeTimer != nil {
		m.resumeTimer.Stop()
		m.resumeTimer = nil
	}
	callbacks := append([]Callback(nil), m.onDeactivate...)
	m.mu.Unlock()

	if wasActive {
		m.log.Info("cooldown_deactivated")
		m.fireCallbacks(callbacks, "deactivate")
	}
}

// CancelTimer cancels the pending auto-resume timer without deactivating,
// used during shutdown.
func (m *Manager) CancelTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resumeTimer != nil {
		m.resumeTimer.Stop()
		m.resumeTimer = nil
	}
}

func (m *Manager) autoResume() {
	m.log.Info("cooldown_auto_resume")
	m.Deactivate()
}

func (m *Manager) fireCallbacks(callbacks []Callback, name string) {
	for _, cb := range callbacks {
		cb := cb
		go func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("cooldown_callback_panic", zap.String("callback", name), zap.Any("recovered", r))
				}
			}()
			cb()
		}()
	}
}
