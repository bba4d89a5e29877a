package core

import "github.com/bytedance/sonic"

// DecodeMode controls how JSON numbers in exchange payloads are decoded.
// Financial values must not silently lose precision, so the default keeps
// every number as a json.Number backed by the exact wire text.
type DecodeMode int

const (
	// DecodeExact decodes numbers as json.Number (exact-precision strings).
	DecodeExact DecodeMode = iota
	// DecodeNative decodes numbers as float64. Lossy; opt-in only.
	DecodeNative
)

// String returns the string representation of the decode mode.
func (m DecodeMode) String() string {
	return [...]string{"EXACT", "NATIVE"}[m]
}

var exactAPI = sonic.Config{UseNumber: true}.Froze()

// API returns the sonic API configured for the decode mode.
func (m DecodeMode) API() sonic.API {
	if m == DecodeNative {
		return sonic.ConfigDefault
	}
	return exactAPI
}
