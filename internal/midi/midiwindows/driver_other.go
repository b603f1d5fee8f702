//go:build !windows
// +build !windows

package midiwindows

import (
	"errors"

	"github.com/leandrodaf/midiws/sdk/contracts"
)

// ErrUnavailable is returned on every platform but Windows.
var ErrUnavailable = errors.New("winmm is not available on this platform")

// NewDriver fails outside Windows.
func NewDriver(options *contracts.RelayOptions) (contracts.Driver, error) {
	options.Logger.Warn("winmm backend requested on a non-Windows system")
	return nil, ErrUnavailable
}
