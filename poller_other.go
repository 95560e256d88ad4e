//go:build unix && !linux

package reactor

func newDefaultPoller() (poller, error) {
	return newPollPoller(), nil
}

func newEpollPoller() (poller, error) {
	return nil, ErrBackendUnsupported
}
