package mididarwin

import (
	"reflect"
	"testing"

	"github.com/leandrodaf/midiws/sdk/contracts"
)

func TestSplitPacket(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want []contracts.RawMessage
	}{
		{"single", []byte{0x90, 60, 100}, []contracts.RawMessage{{0x90, 60, 100}}},
		{"two", []byte{0x90, 60, 100, 0x80, 60, 0}, []contracts.RawMessage{{0x90, 60, 100}, {0x80, 60, 0}}},
		{"realtime interleaved", []byte{0x90, 60, 0xF8, 100}, []contracts.RawMessage{{0xF8}, {0x90, 60, 100}}},
		{"sysex", []byte{0xF0, 0x7E, 0x7F, 0xF7, 0xB0, 7, 1}, []contracts.RawMessage{{0xF0, 0x7E, 0x7F, 0xF7}, {0xB0, 7, 1}}},
		{"orphan data", []byte{60, 100}, nil},
	}
	for _, c := range cases {
		if got := splitPacket(c.in); !reflect.DeepEqual(got, c.want) {
			t.Errorf("%s: got %v, want %v", c.name, got, c.want)
		}
	}
}
