package main

import (
	"math"
	"strconv"
	"strings"
)

// Encoding 主題文字的編碼結果類型
type Encoding int

const (
	EncodingNumeric Encoding = iota
	EncodingFaultCode
	EncodingInvalid
)

func (e Encoding) String() string {
	switch e {
	case EncodingNumeric:
		return "numeric"
	case EncodingFaultCode:
		return "fault_code"
	case EncodingInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// 故障碼每個字母的偏移量 (A=1000, B=2000, ...)
const faultCodeLetterStep = 1000

// IsFaultCode 是否為故障碼 (一個大寫字母接數字，如 H12)
func IsFaultCode(text string) bool {
	if len(text) < 2 || text[0] < 'A' || text[0] > 'Z' {
		return false
	}
	return allDigits(text[1:])
}

// IsNumeric 是否為十進位數字 (可選負號、最多一個小數點、至少一位數字)
func IsNumeric(text string) bool {
	s := strings.TrimPrefix(text, "-")
	digits := 0
	dots := 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9':
			digits++
		case c == '.':
			dots++
			if dots > 1 {
				return false
			}
		default:
			return false
		}
	}
	return digits > 0
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// EncodeFaultCode 將故障碼編碼為 (字母序 × 1000 + 數字)，飽和至 int16
func EncodeFaultCode(text string) (uint16, bool) {
	if !IsFaultCode(text) {
		return 0, false
	}

	rank := int64(text[0]-'A') + 1
	sub, err := strconv.ParseInt(text[1:], 10, 64)
	if err != nil {
		// 只可能是超出 int64 範圍
		return math.MaxInt16, true
	}
	return uint16(saturateInt16(rank*faultCodeLetterStep + sub)), true
}

// EncodeScaled 將主題文字編碼為單一暫存器值
//
// 故障碼優先；數字依主題單位決定 ×100 四捨五入或直接截斷；
// 其他文字編碼為 0 並回報 EncodingInvalid，由呼叫端決定是否記錄診斷。
func EncodeScaled(text string, topic TopicDescriptor) (uint16, Encoding) {
	text = strings.TrimSpace(text)

	if v, ok := EncodeFaultCode(text); ok {
		return v, EncodingFaultCode
	}

	if !IsNumeric(text) {
		return 0, EncodingInvalid
	}

	f, ok := parseNumber(text)
	if !ok {
		return 0, EncodingInvalid
	}

	if topic.Scaled() {
		return uint16(clampInt16(math.Round(f * 100))), EncodingNumeric
	}
	return uint16(clampInt16(math.Trunc(f))), EncodingNumeric
}

// EncodeFloat 將主題文字編碼為 IEEE-754 float32 的兩個暫存器 (高位字, 低位字)
func EncodeFloat(text string) (msw, lsw uint16, ok bool) {
	text = strings.TrimSpace(text)
	if !IsNumeric(text) {
		return 0, 0, false
	}

	f, err := strconv.ParseFloat(text, 32)
	if err != nil && !isRangeError(err) {
		return 0, 0, false
	}

	msw, lsw = SplitFloat32(float32(f))
	return msw, lsw, true
}

// SplitFloat32 取 float32 位元樣式拆成高低兩字
func SplitFloat32(f float32) (msw, lsw uint16) {
	bits := math.Float32bits(f)
	return uint16(bits >> 16), uint16(bits)
}

// DecodeFloat 由高低兩字還原 float32
func DecodeFloat(msw, lsw uint16) float32 {
	return math.Float32frombits(uint32(msw)<<16 | uint32(lsw))
}

// DecodeScaled 將暫存器值還原為主題數值 (供客戶端顯示用)
func DecodeScaled(raw uint16, topic TopicDescriptor) float64 {
	v := float64(int16(raw))
	if topic.Scaled() {
		return v / 100
	}
	return v
}

// DecodeFaultCode 將暫存器值還原為故障碼文字，非故障碼範圍返回 false
func DecodeFaultCode(raw uint16) (string, bool) {
	v := int16(raw)
	if v < faultCodeLetterStep {
		return "", false
	}
	rank := int(v) / faultCodeLetterStep
	if rank > 26 {
		return "", false
	}
	return string(rune('A'+rank-1)) + strconv.Itoa(int(v)%faultCodeLetterStep), true
}

func parseNumber(text string) (float64, bool) {
	f, err := strconv.ParseFloat(text, 64)
	if err != nil && !isRangeError(err) {
		return 0, false
	}
	return f, true
}

func isRangeError(err error) bool {
	numErr, ok := err.(*strconv.NumError)
	return ok && numErr.Err == strconv.ErrRange
}

// clampInt16 飽和轉換 (不環繞)
func clampInt16(f float64) int16 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt16:
		return math.MaxInt16
	case f <= math.MinInt16:
		return math.MinInt16
	default:
		return int16(f)
	}
}

func saturateInt16(v int64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}
