//go:build !cgo

package midirtmidi

import (
	"errors"

	"github.com/leandrodaf/midiws/sdk/contracts"
)

// ErrUnavailable is returned when the binary was built without cgo.
var ErrUnavailable = errors.New("rtmidi backend requires cgo")

// NewDriver fails without cgo; use the virtual backend or a native one instead.
func NewDriver(options *contracts.RelayOptions) (contracts.Driver, error) {
	options.Logger.Warn("rtmidi backend requested in a build without cgo")
	return nil, ErrUnavailable
}
