package main

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	celsiusTopic = TopicDescriptor{Name: "Outside_Temp", Unit: UnitCelsius}
	stateTopic   = TopicDescriptor{Name: "Heatpump_State", Unit: UnitState}
	wattTopic    = TopicDescriptor{Name: "Heat_Power_Production", Unit: UnitWatt}
	ampereTopic  = TopicDescriptor{Name: "Compressor_Current", Unit: UnitAmpere, Decimal: true}
	faultTopic   = TopicDescriptor{Name: "Error", Unit: UnitFaultCode}
)

func TestIsNumeric(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"0", true},
		{"21", true},
		{"-3", true},
		{"21.5", true},
		{"-.5", true},
		{"5.", true},
		{"", false},
		{"-", false},
		{".", false},
		{"1.2.3", false},
		{"1e3", false},
		{"+1", false},
		{"n/a", false},
		{"H12", false},
		{"--1", false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNumeric(tt.text))
		})
	}
}

func TestIsFaultCode(t *testing.T) {
	assert.True(t, IsFaultCode("H12"))
	assert.True(t, IsFaultCode("F95"))
	assert.True(t, IsFaultCode("A0"))

	assert.False(t, IsFaultCode("H"))
	assert.False(t, IsFaultCode("h12"))
	assert.False(t, IsFaultCode("12"))
	assert.False(t, IsFaultCode("H1x"))
	assert.False(t, IsFaultCode("No error"))
}

func TestEncodeFaultCode(t *testing.T) {
	tests := []struct {
		text string
		want int16
	}{
		{"A0", 1000},
		{"H12", 8012},
		{"F95", 6095},
		{"Z999", 26999}, // 26*1000+999 未超出 int16，不飽和；取捨記錄於 DESIGN.md 故障碼決策
		{"Z99999", math.MaxInt16},
		{"H99999999999999999999999", math.MaxInt16},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			v, ok := EncodeFaultCode(tt.text)
			assert.True(t, ok)
			assert.Equal(t, tt.want, int16(v))
		})
	}

	_, ok := EncodeFaultCode("No error")
	assert.False(t, ok)
}

func TestEncodeScaled(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		topic TopicDescriptor
		want  int16
		enc   Encoding
	}{
		{"celsius scaled", "21.5", celsiusTopic, 2150, EncodingNumeric},
		{"celsius negative rounds", "-3.456", celsiusTopic, -346, EncodingNumeric},
		{"celsius integer", "35", celsiusTopic, 3500, EncodingNumeric},
		{"state integer", "1", stateTopic, 1, EncodingNumeric},
		{"decimal text on unscaled topic truncates", "21.5", stateTopic, 21, EncodingNumeric},
		{"negative truncates toward zero", "-21.9", wattTopic, -21, EncodingNumeric},
		{"decimal flag scales", "4.5", ampereTopic, 450, EncodingNumeric},
		{"scaled saturates high", "400.0", celsiusTopic, math.MaxInt16, EncodingNumeric},
		{"scaled saturates low", "-400", celsiusTopic, math.MinInt16, EncodingNumeric},
		{"unscaled saturates", "123456", wattTopic, math.MaxInt16, EncodingNumeric},
		{"surrounding spaces", " 12 ", wattTopic, 12, EncodingNumeric},
		{"fault code", "H12", faultTopic, 8012, EncodingFaultCode},
		{"fault code on any topic", "H12", celsiusTopic, 8012, EncodingFaultCode},
		{"non numeric", "n/a", celsiusTopic, 0, EncodingInvalid},
		{"no error text", "No error", faultTopic, 0, EncodingInvalid},
		{"empty", "", celsiusTopic, 0, EncodingInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, enc := EncodeScaled(tt.text, tt.topic)
			assert.Equal(t, tt.want, int16(v))
			assert.Equal(t, tt.enc, enc)
		})
	}
}

func TestEncodeFloat(t *testing.T) {
	msw, lsw, ok := EncodeFloat("21.5")
	assert.True(t, ok)
	assert.Equal(t, uint16(0x41AC), msw)
	assert.Equal(t, uint16(0x0000), lsw)
	assert.Equal(t, float32(21.5), DecodeFloat(msw, lsw))

	msw, lsw, ok = EncodeFloat("-3.25")
	assert.True(t, ok)
	assert.Equal(t, float32(-3.25), DecodeFloat(msw, lsw))

	msw, lsw, ok = EncodeFloat("n/a")
	assert.False(t, ok)
	assert.Zero(t, msw)
	assert.Zero(t, lsw)

	_, _, ok = EncodeFloat("H12")
	assert.False(t, ok, "故障碼沒有浮點表示")
}

func TestEncodeFloat_Overflow(t *testing.T) {
	msw, lsw, ok := EncodeFloat(strings.Repeat("9", 50))
	assert.True(t, ok)
	assert.True(t, math.IsInf(float64(DecodeFloat(msw, lsw)), 1))
}

func TestSplitFloat32(t *testing.T) {
	for _, f := range []float32{0, 1, -1, 0.1, 1234.5678, math.MaxFloat32, math.SmallestNonzeroFloat32} {
		msw, lsw := SplitFloat32(f)
		assert.Equal(t, f, DecodeFloat(msw, lsw))
	}
}

func TestDecodeScaled(t *testing.T) {
	assert.InDelta(t, 21.5, DecodeScaled(2150, celsiusTopic), 0.001)
	assert.InDelta(t, -3.46, DecodeScaled(uint16(0xFEA6), celsiusTopic), 0.001)
	assert.InDelta(t, 5000, DecodeScaled(5000, wattTopic), 0.001)
}

func TestDecodeFaultCode(t *testing.T) {
	code, ok := DecodeFaultCode(8012)
	assert.True(t, ok)
	assert.Equal(t, "H12", code)

	code, ok = DecodeFaultCode(26999)
	assert.True(t, ok)
	assert.Equal(t, "Z999", code)

	_, ok = DecodeFaultCode(999)
	assert.False(t, ok)

	_, ok = DecodeFaultCode(math.MaxInt16)
	assert.False(t, ok)

	_, ok = DecodeFaultCode(uint16(0xFFFF))
	assert.False(t, ok)
}

func BenchmarkEncodeScaled(b *testing.B) {
	for i := 0; i < b.N; i++ {
		EncodeScaled("21.5", celsiusTopic)
	}
}
