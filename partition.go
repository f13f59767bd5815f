package main

import (
	"fmt"
	"strconv"
)

// 位址空間配置 (對外契約，不可隨意更動)
const (
	ScaledMainBase     uint16 = 0
	ScaledExtraBase    uint16 = 500
	ScaledOptionalBase uint16 = 600

	FloatMainBase     uint16 = 1000
	FloatExtraBase    uint16 = 1500
	FloatOptionalBase uint16 = 1600

	CommandMainBase     uint16 = 2000
	CommandMainSpan     uint16 = 100
	CommandOptionalBase uint16 = 2100
)

// TopicRange 縮放整數主題區段 [Base, Base+Count)
type TopicRange struct {
	Base   uint16
	Count  uint16
	Source TopicSource
}

// Contains 位址是否落在區段內
func (r TopicRange) Contains(addr uint16) bool {
	return addr >= r.Base && uint32(addr) < uint32(r.Base)+uint32(r.Count)
}

func (r TopicRange) end() uint32 {
	return uint32(r.Base) + uint32(r.Count)
}

// FloatTopicRange 浮點主題區段，每個主題佔兩個暫存器 (高位字在前)
type FloatTopicRange struct {
	Base       uint16
	TopicCount uint16
	Source     TopicSource
}

// Contains 位址是否落在區段內
func (r FloatTopicRange) Contains(addr uint16) bool {
	return addr >= r.Base && uint32(addr) < r.end()
}

func (r FloatTopicRange) end() uint32 {
	return uint32(r.Base) + 2*uint32(r.TopicCount)
}

// CommandRange 命令區段
type CommandRange struct {
	Base   uint16
	Count  uint16
	Source TopicSource
}

// Contains 位址是否落在區段內
func (r CommandRange) Contains(addr uint16) bool {
	return addr >= r.Base && uint32(addr) < r.end()
}

func (r CommandRange) end() uint32 {
	return uint32(r.Base) + uint32(r.Count)
}

// FloatWord 浮點數的半字
type FloatWord int

const (
	WordMSW FloatWord = 0
	WordLSW FloatWord = 1
)

// Resolution 位址解析結果
type Resolution struct {
	Kind   DataKind
	Source TopicSource
	Index  int
	Word   FloatWord
}

// AddressPartition 位址分區表
type AddressPartition struct {
	scaled   []TopicRange
	floats   []FloatTopicRange
	commands []CommandRange
}

// NewAddressPartition 依主題表與命令表建立分區表
func NewAddressPartition() (*AddressPartition, error) {
	p := &AddressPartition{
		scaled: []TopicRange{
			{Base: ScaledMainBase, Count: uint16(len(MainTopics)), Source: SourceMain},
			{Base: ScaledExtraBase, Count: uint16(len(ExtraTopics)), Source: SourceExtra},
			{Base: ScaledOptionalBase, Count: uint16(len(OptionalTopics)), Source: SourceOptional},
		},
		floats: []FloatTopicRange{
			{Base: FloatMainBase, TopicCount: uint16(len(MainTopics)), Source: SourceMain},
			{Base: FloatExtraBase, TopicCount: uint16(len(ExtraTopics)), Source: SourceExtra},
			{Base: FloatOptionalBase, TopicCount: uint16(len(OptionalTopics)), Source: SourceOptional},
		},
		commands: []CommandRange{
			{Base: CommandMainBase, Count: CommandMainSpan, Source: SourceMain},
			{Base: CommandOptionalBase, Count: uint16(len(OptionalCommands)), Source: SourceOptional},
		},
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate 檢查所有區段互不重疊且依序排列
func (p *AddressPartition) Validate() error {
	type span struct {
		start uint32
		end   uint32 // exclusive
		name  string
	}

	var spans []span
	for _, r := range p.scaled {
		spans = append(spans, span{uint32(r.Base), r.end(), "scaled/" + r.Source.String()})
	}
	for _, r := range p.floats {
		spans = append(spans, span{uint32(r.Base), r.end(), "float/" + r.Source.String()})
	}
	for _, r := range p.commands {
		spans = append(spans, span{uint32(r.Base), r.end(), "command/" + r.Source.String()})
	}

	for i, s := range spans {
		if s.end > 0x10000 {
			return fmt.Errorf("區段 %s 超出位址空間: %d-%d", s.name, s.start, s.end-1)
		}
		if i > 0 && s.start < spans[i-1].end {
			return fmt.Errorf("區段重疊或未排序: %s (%d-%d) 與 %s (%d-%d)",
				s.name, s.start, s.end-1,
				spans[i-1].name, spans[i-1].start, spans[i-1].end-1,
			)
		}
	}

	seen := make(map[uint16]string, len(MainCommands))
	for _, c := range MainCommands {
		if c.ID >= CommandMainSpan {
			return fmt.Errorf("命令 %s 的 ID %d 超出區段寬度 %d", c.Name, c.ID, CommandMainSpan)
		}
		if prev, ok := seen[c.ID]; ok {
			return fmt.Errorf("命令 ID %d 重複: %s 與 %s", c.ID, prev, c.Name)
		}
		seen[c.ID] = c.Name
	}

	return nil
}

// ResolveScaled 解析縮放整數位址
func (p *AddressPartition) ResolveScaled(addr uint16) (Resolution, bool) {
	for _, r := range p.scaled {
		if r.Contains(addr) {
			return Resolution{
				Kind:   KindScaled,
				Source: r.Source,
				Index:  int(addr - r.Base),
			}, true
		}
	}
	return Resolution{}, false
}

// ResolveFloat 解析浮點位址
func (p *AddressPartition) ResolveFloat(addr uint16) (Resolution, bool) {
	for _, r := range p.floats {
		if r.Contains(addr) {
			offset := addr - r.Base
			return Resolution{
				Kind:   KindFloat,
				Source: r.Source,
				Index:  int(offset / 2),
				Word:   FloatWord(offset & 1),
			}, true
		}
	}
	return Resolution{}, false
}

// ResolveCommand 解析命令位址，返回所屬區段及區段內偏移
func (p *AddressPartition) ResolveCommand(addr uint16) (CommandRange, uint16, bool) {
	for _, r := range p.commands {
		if r.Contains(addr) {
			return r, addr - r.Base, true
		}
	}
	return CommandRange{}, 0, false
}

// Resolve 依序嘗試縮放整數、浮點、命令
func (p *AddressPartition) Resolve(addr uint16) (Resolution, bool) {
	if res, ok := p.ResolveScaled(addr); ok {
		return res, true
	}
	if res, ok := p.ResolveFloat(addr); ok {
		return res, true
	}
	if r, offset, ok := p.ResolveCommand(addr); ok {
		return Resolution{
			Kind:   KindCommand,
			Source: r.Source,
			Index:  int(offset),
		}, true
	}
	return Resolution{}, false
}

// ScaledRanges 縮放整數區段 (唯讀副本)
func (p *AddressPartition) ScaledRanges() []TopicRange {
	return append([]TopicRange(nil), p.scaled...)
}

// FloatRanges 浮點區段 (唯讀副本)
func (p *AddressPartition) FloatRanges() []FloatTopicRange {
	return append([]FloatTopicRange(nil), p.floats...)
}

// CommandRanges 命令區段 (唯讀副本)
func (p *AddressPartition) CommandRanges() []CommandRange {
	return append([]CommandRange(nil), p.commands...)
}

// ScaledAddress 取得主題的縮放整數位址
func (p *AddressPartition) ScaledAddress(source TopicSource, index int) (uint16, bool) {
	for _, r := range p.scaled {
		if r.Source == source && index >= 0 && index < int(r.Count) {
			return r.Base + uint16(index), true
		}
	}
	return 0, false
}

// FloatAddress 取得主題的浮點高位字位址
func (p *AddressPartition) FloatAddress(source TopicSource, index int) (uint16, bool) {
	for _, r := range p.floats {
		if r.Source == source && index >= 0 && index < int(r.TopicCount) {
			return r.Base + uint16(2*index), true
		}
	}
	return 0, false
}

// RegisterView 客戶端讀回的暫存器與其解碼結果
type RegisterView struct {
	Address uint16
	Raw     uint16
	Kind    string
	Topic   string
	Value   string
}

// DescribeRegisters 依位址表解碼一段連續暫存器 (start 起算)
//
// 浮點主題需要高低兩字都在 words 內才解碼，否則只標示半字。
func DescribeRegisters(p *AddressPartition, start uint16, words []uint16) []RegisterView {
	views := make([]RegisterView, 0, len(words))

	for i, raw := range words {
		addr := start + uint16(i)
		v := RegisterView{Address: addr, Raw: raw, Kind: "-"}

		res, ok := p.Resolve(addr)
		if !ok {
			views = append(views, v)
			continue
		}
		v.Kind = res.Kind.String()

		table := TopicTable(res.Source)
		if res.Kind != KindCommand && res.Index < len(table) {
			v.Topic = res.Source.String() + "/" + table[res.Index].Name
		}

		switch res.Kind {
		case KindScaled:
			if res.Index >= len(table) {
				break
			}
			topic := table[res.Index]
			if topic.Unit == UnitFaultCode {
				if code, ok := DecodeFaultCode(raw); ok {
					v.Value = code
					break
				}
			}
			v.Value = strconv.FormatFloat(DecodeScaled(raw, topic), 'f', -1, 64)
		case KindFloat:
			switch {
			case res.Word == WordMSW && i+1 < len(words):
				v.Value = strconv.FormatFloat(float64(DecodeFloat(raw, words[i+1])), 'f', -1, 32)
			case res.Word == WordMSW:
				v.Value = "(msw)"
			default:
				v.Value = "(lsw)"
			}
		case KindCommand:
			if c, ok := commandAt(res.Source, uint16(res.Index)); ok {
				v.Topic = "command/" + c.Name
			}
		}

		views = append(views, v)
	}
	return views
}
