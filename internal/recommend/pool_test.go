package recommend

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkerPoolRunsSubmittedTasks(t *testing.T) {
	p := NewWorkerPool()
	defer p.Stop()

	var n int64
	p.Submit(func() { atomic.AddInt64(&n, 1) })
	assert.Equal(t, int64(1), n)
}

func TestWorkerPoolHandlesConcurrentSubmits(t *testing.T) {
	p := NewWorkerPool()
	defer p.Stop()

	var n int64
	done := make(chan struct{}, 20)
	for i := 0; i < 20; i++ {
		go func() {
			p.Submit(func() { atomic.AddInt64(&n, 1) })
			done <- struct{}{}
		}()
	}
	for i := 0; i < 20; i++ {
		<-done
	}
	assert.Equal(t, int64(20), n)
}
