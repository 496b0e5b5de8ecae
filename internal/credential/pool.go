package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gembalance-go/internal/gberrors"
	"gembalance-go/internal/logging"
	"gembalance-go/internal/storage"
	log "github.com/sirupsen/logrus"
)

// RecoveryPolicy controls what GetNextWorking does when every enabled
// credential has been tried without success.
type RecoveryPolicy int

const (
	// RecoverReset re-enables the whole pool and hands out one more value
	// unconditionally. The caller may still receive a broken credential when
	// the upstream truly has none left, and must treat the next failure as
	// terminal instead of retrying forever.
	RecoverReset RecoveryPolicy = iota
	// RecoverFail surfaces ErrPoolExhausted instead of resetting.
	RecoverFail
)

// ParseRecoveryPolicy maps the configuration string to a policy.
func ParseRecoveryPolicy(s string) (RecoveryPolicy, error) {
	switch s {
	case "", "reset":
		return RecoverReset, nil
	case "fail":
		return RecoverFail, nil
	default:
		return RecoverReset, fmt.Errorf("unknown recovery policy %q", s)
	}
}

// Options configures a Pool.
type Options struct {
	// MaxFailures quarantines a credential once its failure count reaches
	// this threshold.
	MaxFailures int
	// Recovery selects the exhaustion-recovery behavior.
	Recovery RecoveryPolicy
}

// Pool is the in-process authority over which credentials are usable and
// which one is next. It is constructed once at the composition root and
// shared by reference; all durable state lives in the store.
//
// Two independent critical sections guard its mutable state: cycleMu
// serializes rotation-cursor advancement, failMu serializes the
// read-increment-write sequence of failure reports. A failure report can
// therefore proceed concurrently with an unrelated rotation read.
type Pool struct {
	store       storage.Backend
	maxFailures int
	recovery    RecoveryPolicy

	cycleMu sync.Mutex
	cursor  int

	failMu sync.Mutex
}

// NewPool creates a pool over the given store.
func NewPool(store storage.Backend, opts Options) *Pool {
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = 3
	}
	return &Pool{
		store:       store,
		maxFailures: opts.MaxFailures,
		recovery:    opts.Recovery,
	}
}

// MaxFailures returns the configured quarantine threshold.
func (p *Pool) MaxFailures() int { return p.maxFailures }

// Initialize seeds the store with the given credential values. Values that
// already have a record are left untouched, so seeding is idempotent and
// safe to repeat on every startup or config reload.
func (p *Pool) Initialize(ctx context.Context, values []string) error {
	for _, v := range values {
		if v == "" {
			continue
		}
		if err := p.store.UpsertIfAbsent(ctx, v); err != nil {
			return fmt.Errorf("seed credential %s: %w", logging.RedactKey(v), err)
		}
	}
	return nil
}

// AcquireNext returns the next value in round-robin order among currently
// enabled credentials. Each call advances the cursor by exactly one position
// modulo the size of the enabled set at call time.
func (p *Pool) AcquireNext(ctx context.Context) (string, error) {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	enabled, err := p.enabledSet(ctx)
	if err != nil {
		return "", err
	}
	if len(enabled) == 0 {
		return "", gberrors.ErrPoolExhausted
	}
	p.cursor = (p.cursor + 1) % len(enabled)
	return enabled[p.cursor].Value, nil
}

// IsValid reports whether value has a record that is enabled and under the
// failure threshold. A missing record is logged and reported as invalid.
func (p *Pool) IsValid(ctx context.Context, value string) (bool, error) {
	rec, err := p.store.Get(ctx, value)
	if err != nil {
		if errors.Is(err, gberrors.ErrCredentialNotFound) {
			log.WithField("key", logging.RedactKey(value)).Warn("validity check for unknown credential")
			return false, nil
		}
		return false, err
	}
	return rec.Enabled && rec.FailureCount < p.maxFailures, nil
}

// ReportFailure increments the failure count for value, quarantining it in
// the same store update once the count reaches the threshold, then returns
// the next working credential. A report against an unknown value is logged
// and skipped; the caller still gets a replacement.
func (p *Pool) ReportFailure(ctx context.Context, value string) (string, error) {
	if err := p.recordFailure(ctx, value); err != nil {
		return "", err
	}
	return p.GetNextWorking(ctx)
}

func (p *Pool) recordFailure(ctx context.Context, value string) error {
	p.failMu.Lock()
	defer p.failMu.Unlock()

	rec, err := p.store.Get(ctx, value)
	if err != nil {
		if errors.Is(err, gberrors.ErrCredentialNotFound) {
			log.WithField("key", logging.RedactKey(value)).Warn("failure report for unknown credential")
			return nil
		}
		return err
	}

	newCount := rec.FailureCount + 1
	enabled := rec.Enabled && newCount < p.maxFailures
	if err := p.store.UpdateFailure(ctx, value, newCount, enabled); err != nil {
		return err
	}
	if rec.Enabled && !enabled {
		log.WithFields(log.Fields{
			"key":      logging.RedactKey(value),
			"failures": newCount,
		}).Warn("credential quarantined after reaching failure threshold")
	}
	return nil
}

// GetNextWorking rotates through enabled credentials until it finds a valid
// one. Already-tried values are tracked in a set keyed by value, not by
// cursor position, so the loop terminates correctly even when the enabled
// set shrinks mid-scan. When a full cycle finds nothing usable the
// configured recovery policy applies.
func (p *Pool) GetNextWorking(ctx context.Context) (string, error) {
	visited := make(map[string]struct{})
	for {
		value, err := p.AcquireNext(ctx)
		if err != nil {
			if errors.Is(err, gberrors.ErrPoolExhausted) {
				return p.recover(ctx)
			}
			return "", err
		}
		if _, seen := visited[value]; seen {
			// Rotation wrapped around without finding a working value.
			return p.recover(ctx)
		}
		visited[value] = struct{}{}

		ok, err := p.IsValid(ctx, value)
		if err != nil {
			return "", err
		}
		if ok {
			return value, nil
		}
	}
}

// recover applies the exhaustion-recovery policy. Under RecoverReset the
// post-reset acquisition is returned without a validity check; re-checking
// would recurse forever when zero credentials actually work upstream.
func (p *Pool) recover(ctx context.Context) (string, error) {
	if p.recovery == RecoverFail {
		return "", gberrors.ErrPoolExhausted
	}
	log.Warn("no working credential found in a full rotation, resetting all failure counts")
	if err := p.ResetAllFailures(ctx); err != nil {
		return "", err
	}
	value, err := p.AcquireNext(ctx)
	if err != nil {
		return "", err
	}
	return value, nil
}

// ResetAllFailures re-enables every credential and zeroes its failure count
// in one atomic store update.
func (p *Pool) ResetAllFailures(ctx context.Context) error {
	p.failMu.Lock()
	defer p.failMu.Unlock()
	return p.store.BulkReset(ctx)
}

// KeysByStatus returns failure counts partitioned strictly by the enabled
// flag. The partition predicate is the flag itself, not the failure
// threshold: a credential can be disabled for reasons other than count-based
// quarantine.
func (p *Pool) KeysByStatus(ctx context.Context) (valid, invalid map[string]int, err error) {
	records, err := p.store.LoadAll(ctx)
	if err != nil {
		return nil, nil, err
	}
	valid = make(map[string]int)
	invalid = make(map[string]int)
	for _, rec := range records {
		if rec.Enabled {
			valid[rec.Value] = rec.FailureCount
		} else {
			invalid[rec.Value] = rec.FailureCount
		}
	}
	return valid, invalid, nil
}

func (p *Pool) enabledSet(ctx context.Context) ([]storage.Record, error) {
	records, err := p.store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	enabled := records[:0:0]
	for _, rec := range records {
		if rec.Enabled {
			enabled = append(enabled, rec)
		}
	}
	return enabled, nil
}
