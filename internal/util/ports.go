package util

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/replicate/go/must"
)

var (
	ports   = make(map[int]bool)
	portsMu sync.Mutex
)

// FindPort reserves an unused localhost port, used by tests that need a
// guaranteed-free or guaranteed-bound port.
func FindPort() int {
	portsMu.Lock()
	defer portsMu.Unlock()
	for {
		a := must.Get(net.ResolveTCPAddr("tcp", "localhost:0"))
		l := must.Get(net.ListenTCP("tcp", a))
		p := l.Addr().(*net.TCPAddr).Port
		if _, ok := ports[p]; !ok {
			ports[p] = true
			l.Close()
			return p
		}
	}
}

// PortInUse reports whether something is accepting TCP connections on the
// port on localhost.
func PortInUse(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
