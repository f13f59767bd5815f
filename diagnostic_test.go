package main

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiagnosticGate_ShouldLogOnce(t *testing.T) {
	g := NewTopicDiagnosticGate()

	assert.True(t, g.ShouldLog(SourceMain, 14))
	assert.False(t, g.ShouldLog(SourceMain, 14))
	assert.False(t, g.ShouldLog(SourceMain, 14))

	// 不同來源的同一索引各自獨立
	assert.True(t, g.ShouldLog(SourceExtra, 0))
	assert.True(t, g.ShouldLog(SourceMain, 0))

	assert.Equal(t, 3, g.Logged())
}

func TestDiagnosticGate_OutOfRange(t *testing.T) {
	g := NewDiagnosticGate(map[TopicSource]int{SourceMain: 2})

	assert.False(t, g.ShouldLog(SourceMain, 2))
	assert.False(t, g.ShouldLog(SourceMain, -1))
	assert.False(t, g.ShouldLog(SourceExtra, 0))
	assert.False(t, g.ShouldLog(TopicSource(7), 0))
	assert.Equal(t, 0, g.Logged())
}

func TestDiagnosticGate_Reset(t *testing.T) {
	g := NewTopicDiagnosticGate()

	assert.True(t, g.ShouldLog(SourceOptional, 3))
	g.Reset()
	assert.Equal(t, 0, g.Logged())
	assert.True(t, g.ShouldLog(SourceOptional, 3))
}

func TestDiagnosticGate_Concurrent(t *testing.T) {
	g := NewTopicDiagnosticGate()

	var (
		wg   sync.WaitGroup
		hits atomic.Int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.ShouldLog(SourceMain, 5) {
				hits.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
}
