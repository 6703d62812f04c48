// Package signaling drives the appliance's front-panel status light over a
// serial link. Everything here is best effort: a broken or absent light
// never affects recording.
package signaling

import (
	"log"
	"sync"

	"github.com/tarm/serial"
)

// Byte codes understood by the light controller firmware.
const (
	codeIdle      byte = 'I'
	codeRecording byte = 'R'
	codeError     byte = 'E'
)

// StatusLight writes state codes to the serial port. A nil *StatusLight is
// safe to call.
type StatusLight struct {
	mu   sync.Mutex
	port *serial.Port
}

// Open connects to the light controller. Failure returns a nil light, which
// all methods tolerate.
func Open(device string, baud int) *StatusLight {
	if device == "" {
		return nil
	}
	port, err := serial.OpenPort(&serial.Config{Name: device, Baud: baud})
	if err != nil {
		log.Printf("💡 LIGHT: failed to open %s, running without status light: %v", device, err)
		return nil
	}
	log.Printf("💡 LIGHT: connected on %s", device)
	return &StatusLight{port: port}
}

func (l *StatusLight) send(code byte) {
	if l == nil || l.port == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.port.Write([]byte{code, '\n'}); err != nil {
		log.Printf("💡 LIGHT: write failed: %v", err)
	}
}

func (l *StatusLight) SetIdle()      { l.send(codeIdle) }
func (l *StatusLight) SetRecording() { l.send(codeRecording) }
func (l *StatusLight) SetError()     { l.send(codeError) }

// Close releases the serial port.
func (l *StatusLight) Close() {
	if l == nil || l.port == nil {
		return
	}
	l.port.Close()
}
