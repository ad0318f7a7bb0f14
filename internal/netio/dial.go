package netio

import (
	"fmt"
	"net"
	"time"
)

func dialWithTimeout(host string, port int, timeout time.Duration) (net.Conn, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), timeout)
}
