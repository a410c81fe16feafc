package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClass_String(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(99).String())
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(ErrStoreUnavailable))
	assert.True(t, IsTransient(ErrConnectionLost))
	assert.True(t, IsTransient(ErrRevisionMismatch))
	assert.True(t, IsTransient(fmt.Errorf("wrapped: %w", ErrSourceUnavailable)))
	assert.True(t, IsTransient(stderrors.New("dial tcp: connection refused")))
	assert.False(t, IsTransient(ErrInvalidConfig))
}

func TestIsFatal(t *testing.T) {
	assert.False(t, IsFatal(nil))
	assert.True(t, IsFatal(ErrInvalidConfig))
	assert.True(t, IsFatal(ErrMissingConfig))
	assert.True(t, IsFatal(stderrors.New("fatal: out of memory")))
	assert.False(t, IsFatal(ErrRateLimited))
}

func TestIsInvalid(t *testing.T) {
	assert.False(t, IsInvalid(nil))
	assert.True(t, IsInvalid(ErrInvalidRecord))
	assert.True(t, IsInvalid(ErrTxRequired))
	assert.True(t, IsInvalid(ErrBlankIdentifier))
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap(nil, "Engine", "Reconcile", "load"))

	base := stderrors.New("boom")
	err := Wrap(base, "Engine", "Reconcile", "load matchpoints")
	assert.EqualError(t, err, "Engine.Reconcile: load matchpoints failed: boom")
	assert.True(t, stderrors.Is(err, base))
}

func TestWrapClassified(t *testing.T) {
	base := stderrors.New("boom")

	terr := WrapTransient(base, "Store", "Commit", "update")
	assert.True(t, IsTransient(terr))
	assert.True(t, stderrors.Is(terr, base))

	ierr := WrapInvalid(base, "Engine", "Reconcile", "nil transaction")
	assert.True(t, IsInvalid(ierr))
	assert.Equal(t, ErrorInvalid, Classify(ierr))

	ferr := WrapFatal(base, "Config", "Load", "parse")
	assert.True(t, IsFatal(ferr))

	var ce *ClassifiedError
	assert.True(t, stderrors.As(ferr, &ce))
	assert.Equal(t, "Config", ce.Component)
	assert.Equal(t, "Load", ce.Operation)
}

func TestClassify_Defaults(t *testing.T) {
	// Unknown errors default to transient so callers may retry
	assert.Equal(t, ErrorTransient, Classify(stderrors.New("mystery")))
	assert.Equal(t, ErrorTransient, Classify(nil))
}

func TestRetryConfig_ShouldRetry(t *testing.T) {
	rc := DefaultRetryConfig()

	assert.False(t, rc.ShouldRetry(nil, 0))
	assert.False(t, rc.ShouldRetry(ErrStoreUnavailable, 3)) // attempts exhausted
	assert.True(t, rc.ShouldRetry(ErrStoreUnavailable, 0))
	assert.False(t, rc.ShouldRetry(WrapInvalid(stderrors.New("bad"), "Engine", "Derive", "classify"), 0))

	rc.RetryableErrors = []error{ErrRevisionMismatch}
	assert.True(t, rc.ShouldRetry(ErrRevisionMismatch, 0))
	assert.False(t, rc.ShouldRetry(ErrStoreUnavailable, 0))
}

func TestRetryConfig_ToRetryConfig(t *testing.T) {
	rc := DefaultRetryConfig()
	cfg := rc.ToRetryConfig()
	assert.Equal(t, rc.MaxRetries+1, cfg.MaxAttempts)
	assert.Equal(t, rc.InitialDelay, cfg.InitialDelay)
	assert.True(t, cfg.AddJitter)
}
