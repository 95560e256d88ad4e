//go:build linux

package reactor

var testBackends = []Backend{BackendPoll, BackendEpoll}
