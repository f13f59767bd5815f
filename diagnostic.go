package main

import (
	"sync"
)

// DiagnosticGate 每個主題只記錄一次「非數值」診斷
//
// 旗標只會由 false 變為 true；Reset 僅供測試使用。
type DiagnosticGate struct {
	mu     sync.Mutex
	logged [topicSourceCount][]bool
}

// NewDiagnosticGate 依各來源主題數建立診斷閘
func NewDiagnosticGate(sizes map[TopicSource]int) *DiagnosticGate {
	g := &DiagnosticGate{}
	for source, n := range sizes {
		if source < 0 || int(source) >= topicSourceCount || n < 0 {
			continue
		}
		g.logged[source] = make([]bool, n)
	}
	return g
}

// NewTopicDiagnosticGate 以主題表大小建立診斷閘
func NewTopicDiagnosticGate() *DiagnosticGate {
	return NewDiagnosticGate(map[TopicSource]int{
		SourceMain:     len(MainTopics),
		SourceExtra:    len(ExtraTopics),
		SourceOptional: len(OptionalTopics),
	})
}

// ShouldLog 第一次呼叫返回 true，之後同一主題皆返回 false
func (g *DiagnosticGate) ShouldLog(source TopicSource, index int) bool {
	if source < 0 || int(source) >= topicSourceCount {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	flags := g.logged[source]
	if index < 0 || index >= len(flags) {
		return false
	}
	if flags[index] {
		return false
	}
	flags[index] = true
	return true
}

// Logged 已記錄過診斷的主題數
func (g *DiagnosticGate) Logged() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := 0
	for _, flags := range g.logged {
		for _, f := range flags {
			if f {
				n++
			}
		}
	}
	return n
}

// Reset 清除所有旗標
func (g *DiagnosticGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, flags := range g.logged {
		for i := range flags {
			flags[i] = false
		}
	}
}
