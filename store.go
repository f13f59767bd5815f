package main

import (
	"fmt"
	"sync"
	"time"
)

// TopicStore 主題文字來源 (由熱泵連線並行更新)
type TopicStore interface {
	// TopicText 取得主題目前的文字；尚未收到任何值時 ok 為 false
	TopicText(source TopicSource, index int) (text string, ok bool)

	// TopicCount 該來源實際持有的主題數
	TopicCount(source TopicSource) int
}

// TopicCache 線程安全的主題文字快取
type TopicCache struct {
	mu sync.RWMutex

	tables [topicSourceCount][]TopicDescriptor
	values [topicSourceCount][]topicValue
	names  [topicSourceCount]map[string]int

	lastUpdate time.Time
	updates    uint64
}

type topicValue struct {
	text    string
	set     bool
	updated time.Time
}

// TopicSnapshot 單一主題的快照
type TopicSnapshot struct {
	Source  TopicSource
	Index   int
	Name    string
	Unit    Unit
	Text    string
	Set     bool
	Updated time.Time
}

// NewTopicCache 依主題表建立快取
func NewTopicCache(tables map[TopicSource][]TopicDescriptor) *TopicCache {
	c := &TopicCache{}
	for source, table := range tables {
		if source < 0 || int(source) >= topicSourceCount {
			continue
		}
		c.tables[source] = table
		c.values[source] = make([]topicValue, len(table))
		c.names[source] = make(map[string]int, len(table))
		for i, d := range table {
			c.names[source][d.Name] = i
		}
	}
	return c
}

// DefaultTopicCache 以完整主題表建立快取
func DefaultTopicCache() *TopicCache {
	return NewTopicCache(map[TopicSource][]TopicDescriptor{
		SourceMain:     MainTopics,
		SourceExtra:    ExtraTopics,
		SourceOptional: OptionalTopics,
	})
}

// TopicCount 該來源的主題數
func (c *TopicCache) TopicCount(source TopicSource) int {
	if source < 0 || int(source) >= topicSourceCount {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values[source])
}

// TopicText 讀取主題文字
func (c *TopicCache) TopicText(source TopicSource, index int) (string, bool) {
	if source < 0 || int(source) >= topicSourceCount {
		return "", false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	values := c.values[source]
	if index < 0 || index >= len(values) {
		return "", false
	}
	v := values[index]
	return v.text, v.set
}

// Descriptor 取得主題描述
func (c *TopicCache) Descriptor(source TopicSource, index int) (TopicDescriptor, bool) {
	if source < 0 || int(source) >= topicSourceCount {
		return TopicDescriptor{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	table := c.tables[source]
	if index < 0 || index >= len(table) {
		return TopicDescriptor{}, false
	}
	return table[index], true
}

// Set 以索引寫入主題文字
func (c *TopicCache) Set(source TopicSource, index int, text string) error {
	if source < 0 || int(source) >= topicSourceCount {
		return fmt.Errorf("未知的主題來源: %d", source)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	values := c.values[source]
	if index < 0 || index >= len(values) {
		return fmt.Errorf("主題索引超出範圍: %s/%d", source, index)
	}
	c.store(values, index, text)
	return nil
}

// SetByName 以主題名稱寫入文字 (MQTT 訊息使用)
func (c *TopicCache) SetByName(source TopicSource, name, text string) error {
	if source < 0 || int(source) >= topicSourceCount {
		return fmt.Errorf("未知的主題來源: %d", source)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	index, ok := c.names[source][name]
	if !ok {
		return fmt.Errorf("未知的主題: %s/%s", source, name)
	}
	c.store(c.values[source], index, text)
	return nil
}

func (c *TopicCache) store(values []topicValue, index int, text string) {
	now := time.Now()
	values[index] = topicValue{text: text, set: true, updated: now}
	c.lastUpdate = now
	c.updates++
}

// Snapshot 取得某來源所有主題的快照
func (c *TopicCache) Snapshot(source TopicSource) []TopicSnapshot {
	if source < 0 || int(source) >= topicSourceCount {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	table := c.tables[source]
	result := make([]TopicSnapshot, len(table))
	for i, d := range table {
		v := c.values[source][i]
		result[i] = TopicSnapshot{
			Source:  source,
			Index:   i,
			Name:    d.Name,
			Unit:    d.Unit,
			Text:    v.text,
			Set:     v.set,
			Updated: v.updated,
		}
	}
	return result
}

// LastUpdate 最後一次更新時間與累計更新次數
func (c *TopicCache) LastUpdate() (time.Time, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate, c.updates
}
