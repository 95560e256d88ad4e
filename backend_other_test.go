//go:build unix && !linux

package reactor

var testBackends = []Backend{BackendPoll}
