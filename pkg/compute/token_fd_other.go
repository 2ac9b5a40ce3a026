//go:build !linux

package compute

import "errors"

type notifier struct {
	fd int
}

func newNotifier() (*notifier, error) {
	return nil, errors.ErrUnsupported
}

func (n *notifier) signal() {}

func (n *notifier) close() {}
