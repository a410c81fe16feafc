package ingest

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTerminator_OneShot(t *testing.T) {
	term := NewTerminator()
	assert.False(t, term.Fired())

	term.Fire()
	assert.True(t, term.Fired())

	// Firing again must be a no-op, not a panic
	term.Fire()
	assert.True(t, term.Fired())

	select {
	case <-term.Done():
	default:
		t.Fatal("Done channel not closed after Fire")
	}
}

func TestTerminator_ConcurrentFire(t *testing.T) {
	term := NewTerminator()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			term.Fire()
		}()
	}
	wg.Wait()

	assert.True(t, term.Fired())
}
