package store

import (
	"go.uber.org/multierr"
)

// Fanout 把事件写到多个后端；单个后端失败不影响其余后端
type Fanout []Backend

func (f Fanout) WriteEvent(ev Event) error {
	var err error
	for _, b := range f {
		err = multierr.Append(err, b.WriteEvent(ev))
	}
	return err
}

func (f Fanout) WriteResult(runID string, payload []byte) error {
	var err error
	for _, b := range f {
		err = multierr.Append(err, b.WriteResult(runID, payload))
	}
	return err
}

func (f Fanout) Close() error {
	var err error
	for _, b := range f {
		err = multierr.Append(err, b.Close())
	}
	return err
}
