package tello

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// PortOptions are the UART settings of a serial command bridge. Zero values
// select 115200 8N1, which is what the RMTT expansion board uses.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

var parities = map[string]serial.Parity{
	"N": serial.NoParity,
	"E": serial.EvenParity,
	"O": serial.OddParity,
}

var parityAliases = map[string]string{"": "N", "NONE": "N", "EVEN": "E", "ODD": "O"}

// Normalize fills in defaults and rejects settings the bridge cannot use.
func (o PortOptions) Normalize() (PortOptions, error) {
	if o.BaudRate <= 0 {
		o.BaudRate = 115200
	}
	if o.DataBits == 0 {
		o.DataBits = 8
	}
	if o.StopBits == 0 {
		o.StopBits = 1
	}
	if o.DataBits < 5 || o.DataBits > 8 {
		return o, fmt.Errorf("data bits %d out of range 5-8", o.DataBits)
	}
	if o.StopBits > 2 || o.StopBits < 1 {
		return o, fmt.Errorf("stop bits %d: want 1 or 2", o.StopBits)
	}

	p := strings.ToUpper(strings.TrimSpace(o.Parity))
	if alias, ok := parityAliases[p]; ok {
		p = alias
	}
	if _, ok := parities[p]; !ok {
		return o, fmt.Errorf("parity %q: want N, E or O", o.Parity)
	}
	o.Parity = p
	return o, nil
}

// SerialMode is the normalized options in go.bug.st/serial form.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	n, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	stop := serial.OneStopBit
	if n.StopBits == 2 {
		stop = serial.TwoStopBits
	}
	return &serial.Mode{
		BaudRate: n.BaudRate,
		DataBits: n.DataBits,
		Parity:   parities[n.Parity],
		StopBits: stop,
	}, nil
}
