// Package output defines where readings go once sampled.
package output

import (
	"log"

	"hx711-scale/pkg/device"
)

type Output interface {
	Publish(device.Reading) error
	Close() error
}

// Fanout delivers each reading to every output. It implements
// reader.Sink: a failing output is logged and skipped so one slow or
// broken publisher never stalls sampling.
type Fanout struct {
	outs []Output
}

func NewFanout(outs ...Output) *Fanout {
	return &Fanout{outs: outs}
}

func (f *Fanout) OnReading(r device.Reading) {
	for _, o := range f.outs {
		if err := o.Publish(r); err != nil {
			log.Printf("output publish error: %v", err)
		}
	}
}

func (f *Fanout) OnError(err error) {
	log.Printf("read error: %v", err)
}

func (f *Fanout) Close() error {
	var firstErr error
	for _, o := range f.outs {
		if err := o.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
