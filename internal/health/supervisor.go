// Package health runs interval-driven checks with bounded remediation,
// independent of the decision cycle. Checks observe; they never block or
// reverse trading decisions.
package health

import (
	"context"
	"sync"
	"time"

	"arbiter/internal/logger"
)

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarn     Severity = "WARN"
	SeverityCritical Severity = "CRITICAL"
)

type Status string

const (
	StatusHealthy   Status = "HEALTHY"
	StatusUnhealthy Status = "UNHEALTHY"
	StatusError     Status = "ERROR"
)

// remediationThreshold: 连续失败达到该值后整改动作触发，且每个失败连段只触发一次。
const remediationThreshold = 3

// Check 是单项巡检。Remediate 可选，必须是有界动作（不产生重试风暴）。
type Check struct {
	Name      string
	Severity  Severity
	Interval  time.Duration
	Timeout   time.Duration
	Run       func(ctx context.Context) error
	Remediate func(ctx context.Context) error
}

// Result 即 HealthCheckResult：每轮重算的瞬态快照。
type Result struct {
	Name                 string    `json:"name"`
	Severity             Severity  `json:"severity"`
	Status               Status    `json:"status"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	RemediationAttempted bool      `json:"remediation_attempted"`
	RemediationError     string    `json:"remediation_error,omitempty"`
	Message              string    `json:"message,omitempty"`
	LastRun              time.Time `json:"last_run"`
}

type checkState struct {
	lastRun              time.Time
	consecutiveFailures  int
	remediatedThisStreak bool
	lastRemediationErr   string
	lastErr              string
	status               Status
}

// Supervisor 驱动一组 Check。RunDueChecks 由外层 interval scheduler 周期调用。
type Supervisor struct {
	mu     sync.Mutex
	checks []Check
	states map[string]*checkState
	nowFn  func() time.Time
}

func NewSupervisor(checks ...Check) *Supervisor {
	s := &Supervisor{states: make(map[string]*checkState), nowFn: time.Now}
	for _, c := range checks {
		s.Register(c)
	}
	return s
}

func (s *Supervisor) Register(c Check) {
	if c.Name == "" || c.Run == nil {
		logger.Warnf("health: ignoring check without name or run func")
		return
	}
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	s.mu.Lock()
	s.checks = append(s.checks, c)
	s.states[c.Name] = &checkState{status: StatusHealthy}
	s.mu.Unlock()
}

// RunDueChecks 执行所有到期的巡检。单项巡检内部 panic 记为 ERROR，不影响其余。
func (s *Supervisor) RunDueChecks(ctx context.Context) {
	s.mu.Lock()
	due := make([]Check, 0, len(s.checks))
	now := s.nowFn()
	for _, c := range s.checks {
		st := s.states[c.Name]
		if st.lastRun.IsZero() || now.Sub(st.lastRun) >= c.Interval {
			due = append(due, c)
		}
	}
	s.mu.Unlock()

	for _, c := range due {
		s.runCheck(ctx, c)
	}
}

func (s *Supervisor) runCheck(ctx context.Context, c Check) {
	runCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	err := runGuarded(runCtx, c.Run)

	s.mu.Lock()
	st := s.states[c.Name]
	st.lastRun = s.nowFn()
	if err == nil {
		if st.consecutiveFailures > 0 {
			logger.Infof("health: %s recovered after %d failures", c.Name, st.consecutiveFailures)
		}
		st.consecutiveFailures = 0
		st.remediatedThisStreak = false
		st.lastRemediationErr = ""
		st.lastErr = ""
		st.status = StatusHealthy
		s.mu.Unlock()
		return
	}

	st.consecutiveFailures++
	st.lastErr = err.Error()
	if _, isPanic := err.(panicError); isPanic {
		st.status = StatusError
	} else {
		st.status = StatusUnhealthy
	}
	failures := st.consecutiveFailures
	shouldRemediate := c.Remediate != nil && failures >= remediationThreshold && !st.remediatedThisStreak
	if shouldRemediate {
		st.remediatedThisStreak = true
	}
	s.mu.Unlock()

	logger.Warnf("health: %s failed (%d consecutive, severity=%s): %v", c.Name, failures, c.Severity, err)

	if shouldRemediate {
		// 每个失败连段只整改一次，成功与否都记录在巡检结果里。
		remErr := runGuarded(ctx, c.Remediate)
		s.mu.Lock()
		if remErr != nil {
			s.states[c.Name].lastRemediationErr = remErr.Error()
		}
		s.mu.Unlock()
		if remErr != nil {
			logger.Errorf("health: remediation for %s failed: %v", c.Name, remErr)
		} else {
			logger.Infof("health: remediation for %s completed", c.Name)
		}
	}
}

// Results 返回所有巡检的当前快照。
func (s *Supervisor) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Result, 0, len(s.checks))
	for _, c := range s.checks {
		st := s.states[c.Name]
		out = append(out, Result{
			Name:                 c.Name,
			Severity:             c.Severity,
			Status:               st.status,
			ConsecutiveFailures:  st.consecutiveFailures,
			RemediationAttempted: st.remediatedThisStreak,
			RemediationError:     st.lastRemediationErr,
			Message:              st.lastErr,
			LastRun:              st.lastRun,
		})
	}
	return out
}

type panicError struct{ value any }

func (p panicError) Error() string { return "check panicked" }

func runGuarded(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{value: r}
		}
	}()
	return fn(ctx)
}
