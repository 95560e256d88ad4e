package reactor

import (
	"bytes"
	"runtime"
	"strconv"
)

// goroutineID parses the current goroutine's ID from the header of its
// stack trace, "goroutine N [running]:". Returns 0 on failure.
func goroutineID() uint64 {
	var buf [64]byte
	b := bytes.TrimPrefix(buf[:runtime.Stack(buf[:], false)], []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}
