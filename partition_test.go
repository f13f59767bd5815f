package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPartition(t *testing.T) *AddressPartition {
	t.Helper()
	p, err := NewAddressPartition()
	require.NoError(t, err)
	return p
}

func TestAddressPartition_Validate(t *testing.T) {
	p := newTestPartition(t)
	assert.NoError(t, p.Validate())

	// 浮點區段不可覆蓋到下一段
	for _, r := range p.FloatRanges() {
		assert.LessOrEqual(t, uint32(r.Base)+2*uint32(r.TopicCount), uint32(CommandMainBase))
	}
}

func TestAddressPartition_ResolveScaled(t *testing.T) {
	p := newTestPartition(t)

	tests := []struct {
		addr   uint16
		source TopicSource
		index  int
	}{
		{0, SourceMain, 0},
		{14, SourceMain, 14},
		{uint16(len(MainTopics) - 1), SourceMain, len(MainTopics) - 1},
		{500, SourceExtra, 0},
		{505, SourceExtra, 5},
		{600, SourceOptional, 0},
		{606, SourceOptional, 6},
	}

	for _, tt := range tests {
		res, ok := p.ResolveScaled(tt.addr)
		require.True(t, ok, "位址 %d", tt.addr)
		assert.Equal(t, KindScaled, res.Kind)
		assert.Equal(t, tt.source, res.Source)
		assert.Equal(t, tt.index, res.Index)
	}

	for _, addr := range []uint16{uint16(len(MainTopics)), 499, uint16(500 + len(ExtraTopics)), 999} {
		_, ok := p.ResolveScaled(addr)
		assert.False(t, ok, "位址 %d 不應解析", addr)
	}
}

func TestAddressPartition_ResolveFloat(t *testing.T) {
	p := newTestPartition(t)

	res, ok := p.ResolveFloat(1000)
	require.True(t, ok)
	assert.Equal(t, Resolution{Kind: KindFloat, Source: SourceMain, Index: 0, Word: WordMSW}, res)

	res, ok = p.ResolveFloat(1001)
	require.True(t, ok)
	assert.Equal(t, Resolution{Kind: KindFloat, Source: SourceMain, Index: 0, Word: WordLSW}, res)

	res, ok = p.ResolveFloat(1029)
	require.True(t, ok)
	assert.Equal(t, 14, res.Index)
	assert.Equal(t, WordLSW, res.Word)

	res, ok = p.ResolveFloat(1502)
	require.True(t, ok)
	assert.Equal(t, SourceExtra, res.Source)
	assert.Equal(t, 1, res.Index)

	res, ok = p.ResolveFloat(1613)
	require.True(t, ok)
	assert.Equal(t, SourceOptional, res.Source)
	assert.Equal(t, 6, res.Index)
	assert.Equal(t, WordLSW, res.Word)

	_, ok = p.ResolveFloat(uint16(1000 + 2*len(MainTopics)))
	assert.False(t, ok)
	_, ok = p.ResolveFloat(1614)
	assert.False(t, ok)
}

func TestAddressPartition_ResolveCommand(t *testing.T) {
	p := newTestPartition(t)

	r, offset, ok := p.ResolveCommand(2004)
	require.True(t, ok)
	assert.Equal(t, SourceMain, r.Source)
	assert.Equal(t, uint16(4), offset)

	r, offset, ok = p.ResolveCommand(2099)
	require.True(t, ok)
	assert.Equal(t, SourceMain, r.Source)
	assert.Equal(t, uint16(99), offset)

	r, offset, ok = p.ResolveCommand(2100)
	require.True(t, ok)
	assert.Equal(t, SourceOptional, r.Source)
	assert.Equal(t, uint16(0), offset)

	_, _, ok = p.ResolveCommand(uint16(2100 + len(OptionalCommands)))
	assert.False(t, ok)
	_, _, ok = p.ResolveCommand(1999)
	assert.False(t, ok)
}

func TestAddressPartition_Resolve(t *testing.T) {
	p := newTestPartition(t)

	res, ok := p.Resolve(10)
	require.True(t, ok)
	assert.Equal(t, KindScaled, res.Kind)

	res, ok = p.Resolve(1010)
	require.True(t, ok)
	assert.Equal(t, KindFloat, res.Kind)

	res, ok = p.Resolve(2010)
	require.True(t, ok)
	assert.Equal(t, KindCommand, res.Kind)
	assert.Equal(t, 10, res.Index)

	_, ok = p.Resolve(3000)
	assert.False(t, ok)
	_, ok = p.Resolve(0xFFFF)
	assert.False(t, ok)
}

func TestAddressPartition_Addresses(t *testing.T) {
	p := newTestPartition(t)

	addr, ok := p.ScaledAddress(SourceMain, 14)
	assert.True(t, ok)
	assert.Equal(t, uint16(14), addr)

	addr, ok = p.FloatAddress(SourceMain, 14)
	assert.True(t, ok)
	assert.Equal(t, uint16(1028), addr)

	addr, ok = p.ScaledAddress(SourceExtra, 3)
	assert.True(t, ok)
	assert.Equal(t, uint16(503), addr)

	addr, ok = p.FloatAddress(SourceOptional, 2)
	assert.True(t, ok)
	assert.Equal(t, uint16(1604), addr)

	_, ok = p.ScaledAddress(SourceExtra, len(ExtraTopics))
	assert.False(t, ok)
	_, ok = p.FloatAddress(SourceMain, -1)
	assert.False(t, ok)
}

func TestAddressPartition_RoundTrip(t *testing.T) {
	p := newTestPartition(t)

	for _, source := range ListTopicSources() {
		for i := range TopicTable(source) {
			addr, ok := p.ScaledAddress(source, i)
			require.True(t, ok)
			res, ok := p.ResolveScaled(addr)
			require.True(t, ok)
			assert.Equal(t, source, res.Source)
			assert.Equal(t, i, res.Index)

			addr, ok = p.FloatAddress(source, i)
			require.True(t, ok)
			res, ok = p.ResolveFloat(addr)
			require.True(t, ok)
			assert.Equal(t, i, res.Index)
			assert.Equal(t, WordMSW, res.Word)
		}
	}
}

func TestDescribeRegisters(t *testing.T) {
	p := newTestPartition(t)
	msw, lsw := SplitFloat32(21.5)
	errorIndex, ok := LookupTopic(SourceMain, "Error")
	require.True(t, ok)

	views := DescribeRegisters(p, 14, []uint16{uint16(0xFEA6)})
	require.Len(t, views, 1)
	assert.Equal(t, "main/Outside_Temp", views[0].Topic)
	assert.Equal(t, "-3.46", views[0].Value)

	views = DescribeRegisters(p, 1010, []uint16{msw, lsw})
	require.Len(t, views, 2)
	assert.Equal(t, "float32", views[0].Kind)
	assert.Equal(t, "21.5", views[0].Value)
	assert.Equal(t, "(lsw)", views[1].Value)

	views = DescribeRegisters(p, uint16(errorIndex), []uint16{8012})
	assert.Equal(t, "H12", views[0].Value)

	views = DescribeRegisters(p, 2004, []uint16{40})
	assert.Equal(t, "command/SetZ1HeatRequestTemperature", views[0].Topic)

	views = DescribeRegisters(p, 3000, []uint16{1})
	assert.Equal(t, "-", views[0].Kind)
}
