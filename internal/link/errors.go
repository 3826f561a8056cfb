// internal/link/errors.go
package link

import (
	"errors"

	"github.com/tamzrod/display-link/internal/fault"
)

var (
	ErrRadioOff            = errors.New("link: bluetooth radio is off")
	ErrReconnectExhausted  = errors.New("link: reconnect attempts exhausted")
	ErrScanWhileConnected  = errors.New("link: scan refused while connected")
	ErrBusy                = errors.New("link: connection change in progress")
	ErrNotScanning         = errors.New("link: no discovery session to choose from")
	ErrNotConnected        = errors.New("link: not connected")
	ErrProtocolMismatch    = errors.New("link: repeated integrity failures on inbound packets")
	ErrConnectTimeout      = errors.New("link: connect timed out")
	ErrMachineStopped      = errors.New("link: machine stopped")
	ErrUnknownDevice       = errors.New("link: device not found")
	ErrTransportNoResponse = errors.New("link: transport returned no handle")
)

func unavailable(op string, err error) error {
	return fault.New(fault.ClassTransportUnavailable, op, err)
}

func connection(op string, err error) error {
	return fault.New(fault.ClassConnection, op, err)
}
