package ldapauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// ErrRateLimited is wrapped by every error CheckAttempt returns.
var ErrRateLimited = errors.New("ldapauth: too many failed login attempts")

// RateLimiterConfig configures the rate limiting behavior
type RateLimiterConfig struct {
	// Maximum number of failures allowed within the window
	MaxAttempts int `mapstructure:"max_attempts" validate:"gte=1"`
	// Time window for counting failures
	Window time.Duration `mapstructure:"window" validate:"gt=0"`
	// Lockout duration after exceeding max attempts
	LockoutDuration time.Duration `mapstructure:"lockout_duration" validate:"gt=0"`
	// Enable exponential backoff for repeated violations
	ExponentialBackoff bool `mapstructure:"exponential_backoff"`
	// Maximum lockout duration with exponential backoff
	MaxLockoutDuration time.Duration `mapstructure:"max_lockout_duration"`
	// Time after which to reset the violation count
	ViolationResetTime time.Duration `mapstructure:"violation_reset_time"`
	// Usernames or client addresses that are never throttled
	Whitelist []string `mapstructure:"whitelist"`
}

// DefaultRateLimiterConfig returns a secure default configuration
func DefaultRateLimiterConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		MaxAttempts:        5,
		Window:             15 * time.Minute,
		LockoutDuration:    30 * time.Minute,
		ExponentialBackoff: true,
		MaxLockoutDuration: 24 * time.Hour,
		ViolationResetTime: 24 * time.Hour,
		Whitelist:          []string{},
	}
}

// RateLimitError reports a throttled identifier.
type RateLimitError struct {
	Identifier string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry in %v", ErrRateLimited, e.RetryAfter.Round(time.Second))
}

// Unwrap allows errors.Is(err, ErrRateLimited).
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// attemptRecord tracks failed logins for one identifier
type attemptRecord struct {
	failures       []time.Time
	violationCount int
	lockedUntil    time.Time
	lastUpdate     time.Time
	addresses      map[string]int
}

// RateLimiter throttles identifiers that keep failing to log in.
//
// It consumes the bridge's login-failure signal as a FailureListener; the
// service additionally reports failed local fallbacks through RecordFailure.
type RateLimiter struct {
	config  *RateLimiterConfig
	logger  *slog.Logger
	now     func() time.Time
	mu      sync.Mutex
	records map[string]*attemptRecord

	cleanupTicker *time.Ticker
	stopChan      chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

var _ FailureListener = (*RateLimiter)(nil)

// NewRateLimiter creates a new rate limiter with the specified configuration
func NewRateLimiter(config *RateLimiterConfig, logger *slog.Logger) *RateLimiter {
	if config == nil {
		config = DefaultRateLimiterConfig()
	}

	if logger == nil {
		logger = slog.Default()
	}

	rl := &RateLimiter{
		config:   config,
		logger:   logger.With(slog.String("component", "rate_limiter")),
		now:      time.Now,
		records:  make(map[string]*attemptRecord),
		stopChan: make(chan struct{}),
	}

	rl.startCleanup()

	rl.logger.Debug("rate_limiter_initialized",
		slog.Int("max_attempts", config.MaxAttempts),
		slog.Duration("window", config.Window),
		slog.Duration("lockout", config.LockoutDuration),
		slog.Bool("exponential_backoff", config.ExponentialBackoff))

	return rl
}

// CheckAttempt returns a *RateLimitError if identifier is currently locked out.
// It does not count as an attempt.
func (rl *RateLimiter) CheckAttempt(identifier, address string) error {
	if rl.isWhitelisted(identifier) || rl.isWhitelisted(address) {
		return nil
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	record, ok := rl.records[identifier]
	if !ok {
		return nil
	}

	now := rl.now()
	if now.Before(record.lockedUntil) {
		remaining := record.lockedUntil.Sub(now)
		rl.logger.Warn("login_attempt_throttled",
			slog.String("username_masked", maskSensitiveData(identifier)),
			slog.String("address", address),
			slog.Duration("remaining_lockout", remaining))
		return &RateLimitError{Identifier: identifier, RetryAfter: remaining}
	}

	return nil
}

// RecordFailure counts a failed login and locks identifier once MaxAttempts
// failures fall within Window.
func (rl *RateLimiter) RecordFailure(identifier, address string) {
	if rl.isWhitelisted(identifier) || rl.isWhitelisted(address) {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	record, ok := rl.records[identifier]
	if !ok {
		record = &attemptRecord{
			failures:  make([]time.Time, 0, rl.config.MaxAttempts),
			addresses: make(map[string]int),
		}
		rl.records[identifier] = record
	}

	if !record.lastUpdate.IsZero() && now.Sub(record.lastUpdate) > rl.config.ViolationResetTime {
		record.violationCount = 0
	}

	record.failures = rl.inWindow(record.failures, now)
	record.failures = append(record.failures, now)
	record.lastUpdate = now

	if address != "" {
		record.addresses[address]++
	}

	if len(record.failures) < rl.config.MaxAttempts {
		rl.logger.Debug("login_failure_recorded",
			slog.String("username_masked", maskSensitiveData(identifier)),
			slog.Int("attempts_remaining", rl.config.MaxAttempts-len(record.failures)))
		return
	}

	lockout := rl.calculateLockoutDuration(record.violationCount)
	record.lockedUntil = now.Add(lockout)
	record.violationCount++
	record.failures = record.failures[:0]

	rl.logger.Warn("login_rate_limit_exceeded",
		slog.String("username_masked", maskSensitiveData(identifier)),
		slog.Int("unique_addresses", len(record.addresses)),
		slog.Int("violation_count", record.violationCount),
		slog.Duration("lockout_duration", lockout))
}

// LoginFailed implements FailureListener.
func (rl *RateLimiter) LoginFailed(_ context.Context, username string) {
	rl.RecordFailure(username, "")
}

// RecordSuccess clears the failures counted for identifier.
// The violation count is kept so repeat offenders still back off.
func (rl *RateLimiter) RecordSuccess(identifier string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if record, ok := rl.records[identifier]; ok {
		record.failures = record.failures[:0]
		record.lastUpdate = rl.now()
	}
}

// GetStatus returns the current status for an identifier
func (rl *RateLimiter) GetStatus(identifier string) (attempts int, lockedUntil time.Time, isLocked bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	record, ok := rl.records[identifier]
	if !ok {
		return 0, time.Time{}, false
	}

	now := rl.now()
	attempts = len(rl.inWindow(record.failures, now))

	if now.Before(record.lockedUntil) {
		return attempts, record.lockedUntil, true
	}

	return attempts, time.Time{}, false
}

// Stats returns the number of tracked identifiers and how many are locked.
func (rl *RateLimiter) Stats() (tracked, locked int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for _, record := range rl.records {
		if now.Before(record.lockedUntil) {
			locked++
		}
	}
	return len(rl.records), locked
}

// Reset clears the rate limit record for an identifier
func (rl *RateLimiter) Reset(identifier string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	delete(rl.records, identifier)
}

// Close stops the background cleanup. It is safe to call more than once.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() {
		rl.cleanupTicker.Stop()
		close(rl.stopChan)
		rl.wg.Wait()
	})
}

func (rl *RateLimiter) isWhitelisted(identifier string) bool {
	return identifier != "" && slices.Contains(rl.config.Whitelist, identifier)
}

func (rl *RateLimiter) inWindow(attempts []time.Time, now time.Time) []time.Time {
	windowStart := now.Add(-rl.config.Window)
	valid := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			valid = append(valid, t)
		}
	}
	return valid
}

func (rl *RateLimiter) calculateLockoutDuration(violationCount int) time.Duration {
	if !rl.config.ExponentialBackoff {
		return rl.config.LockoutDuration
	}

	// duration * 2^violationCount, capped
	duration := rl.config.LockoutDuration
	for i := 0; i < violationCount; i++ {
		duration *= 2
		if rl.config.MaxLockoutDuration > 0 && duration > rl.config.MaxLockoutDuration {
			return rl.config.MaxLockoutDuration
		}
	}

	return duration
}

func (rl *RateLimiter) startCleanup() {
	rl.cleanupTicker = time.NewTicker(time.Hour)

	rl.wg.Add(1)
	go func() {
		defer rl.wg.Done()
		for {
			select {
			case <-rl.cleanupTicker.C:
				rl.cleanup()
			case <-rl.stopChan:
				return
			}
		}
	}()
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0

	for identifier, record := range rl.records {
		if now.Sub(record.lastUpdate) > rl.config.ViolationResetTime && now.After(record.lockedUntil) {
			delete(rl.records, identifier)
			removed++
		}
	}

	if removed > 0 {
		rl.logger.Debug("rate_limit_records_expired", slog.Int("removed", removed))
	}
}
