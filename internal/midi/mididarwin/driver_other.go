//go:build !darwin
// +build !darwin

package mididarwin

import (
	"errors"

	"github.com/leandrodaf/midiws/sdk/contracts"
)

// ErrUnavailable is returned on every platform but macOS.
var ErrUnavailable = errors.New("CoreMIDI is not available on this platform")

// NewDriver fails outside macOS; the relay falls back to another backend.
func NewDriver(options *contracts.RelayOptions) (contracts.Driver, error) {
	options.Logger.Warn("CoreMIDI backend requested on a non-macOS system")
	return nil, ErrUnavailable
}
