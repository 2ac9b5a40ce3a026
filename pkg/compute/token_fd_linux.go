//go:build linux

package compute

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// notifier is an eventfd written once when the work completes.
type notifier struct {
	fd     int
	mu     sync.Mutex
	closed bool
}

func newNotifier() (*notifier, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		if err == unix.EMFILE || err == unix.ENFILE || err == unix.ENOMEM {
			return nil, ErrResourcesExhausted
		}
		return nil, fmt.Errorf("failed to create eventfd: %w", err)
	}
	return &notifier{fd: fd}, nil
}

func (n *notifier) signal() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	for {
		_, err := unix.Write(n.fd, buf[:])
		switch err {
		case nil, unix.EAGAIN:
			return
		case unix.EINTR:
			continue
		}
		panic(fmt.Sprintf("compute: eventfd write: %v", err))
	}
}

func (n *notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for {
		err := unix.Close(n.fd)
		switch err {
		case nil:
			return
		case unix.EINTR:
			continue
		}
		panic(fmt.Sprintf("compute: eventfd close: %v", err))
	}
}
