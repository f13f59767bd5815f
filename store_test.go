package main

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicCache_Unset(t *testing.T) {
	c := DefaultTopicCache()

	assert.Equal(t, len(MainTopics), c.TopicCount(SourceMain))
	assert.Equal(t, len(ExtraTopics), c.TopicCount(SourceExtra))
	assert.Equal(t, len(OptionalTopics), c.TopicCount(SourceOptional))

	text, ok := c.TopicText(SourceMain, 0)
	assert.False(t, ok)
	assert.Empty(t, text)

	at, n := c.LastUpdate()
	assert.True(t, at.IsZero())
	assert.Zero(t, n)
}

func TestTopicCache_SetAndGet(t *testing.T) {
	c := DefaultTopicCache()

	require.NoError(t, c.Set(SourceMain, 14, "5.5"))
	text, ok := c.TopicText(SourceMain, 14)
	assert.True(t, ok)
	assert.Equal(t, "5.5", text)

	require.NoError(t, c.SetByName(SourceExtra, "DHW_Power_Production_Extra", "1200"))
	text, ok = c.TopicText(SourceExtra, 5)
	assert.True(t, ok)
	assert.Equal(t, "1200", text)

	// 空字串也算收到
	require.NoError(t, c.SetByName(SourceMain, "Error", ""))
	idx, _ := LookupTopic(SourceMain, "Error")
	_, ok = c.TopicText(SourceMain, idx)
	assert.True(t, ok)

	_, n := c.LastUpdate()
	assert.Equal(t, uint64(3), n)
}

func TestTopicCache_Errors(t *testing.T) {
	c := DefaultTopicCache()

	assert.Error(t, c.Set(SourceMain, len(MainTopics), "1"))
	assert.Error(t, c.Set(SourceMain, -1, "1"))
	assert.Error(t, c.Set(TopicSource(9), 0, "1"))
	assert.Error(t, c.SetByName(SourceMain, "No_Such_Topic", "1"))
	assert.Error(t, c.SetByName(SourceExtra, "Outside_Temp", "1"))

	_, ok := c.TopicText(SourceMain, len(MainTopics))
	assert.False(t, ok)
	assert.Zero(t, c.TopicCount(TopicSource(9)))
}

func TestTopicCache_PartialTable(t *testing.T) {
	c := NewTopicCache(map[TopicSource][]TopicDescriptor{
		SourceMain: MainTopics[:10],
	})

	assert.Equal(t, 10, c.TopicCount(SourceMain))
	assert.Zero(t, c.TopicCount(SourceExtra))
	assert.Error(t, c.Set(SourceMain, 10, "1"))
	assert.Error(t, c.SetByName(SourceMain, "Outside_Temp", "1"))
}

func TestTopicCache_Snapshot(t *testing.T) {
	c := DefaultTopicCache()
	require.NoError(t, c.SetByName(SourceOptional, "Alarm_State", "1"))

	snaps := c.Snapshot(SourceOptional)
	require.Len(t, snaps, len(OptionalTopics))

	last := snaps[len(snaps)-1]
	assert.Equal(t, "Alarm_State", last.Name)
	assert.Equal(t, "1", last.Text)
	assert.True(t, last.Set)
	assert.False(t, last.Updated.IsZero())
	assert.False(t, snaps[0].Set)

	d, ok := c.Descriptor(SourceMain, 14)
	assert.True(t, ok)
	assert.Equal(t, "Outside_Temp", d.Name)
}

func TestTopicCache_ConcurrentWriters(t *testing.T) {
	c := DefaultTopicCache()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = c.SetByName(SourceMain, "Outside_Temp", "5")
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.TopicText(SourceMain, 14)
				c.Snapshot(SourceMain)
			}
		}()
	}
	wg.Wait()

	_, n := c.LastUpdate()
	assert.Equal(t, uint64(1000), n)
}
