package mididarwin

import "github.com/leandrodaf/midiws/sdk/contracts"

// splitPacket breaks a CoreMIDI packet into individual messages. Every status
// byte starts a new message; data bytes stay with the preceding status.
// Leading data bytes without a status are dropped.
func splitPacket(data []byte) []contracts.RawMessage {
	var (
		out     []contracts.RawMessage
		current contracts.RawMessage
		inSysex bool
	)
	for _, b := range data {
		switch {
		case inSysex:
			current = append(current, b)
			if b == 0xF7 {
				out = append(out, current)
				current, inSysex = nil, false
			}
		case b >= 0xF8:
			// Real-time bytes may interleave anything and stand alone.
			out = append(out, contracts.RawMessage{b})
		case b&0x80 != 0:
			if len(current) > 0 {
				out = append(out, current)
			}
			current = contracts.RawMessage{b}
			inSysex = b == 0xF0
		case len(current) > 0:
			current = append(current, b)
		}
	}
	if len(current) > 0 {
		out = append(out, current)
	}
	return out
}
