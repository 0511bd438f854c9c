package detector

import (
	"fmt"
	"net"
	"time"
)

// PortDetector detects a service by probing its TCP port for connectability.
// Useful when a service outlives the supervisor and no PID file exists; note
// that a connectable port only proves something listens there.
type PortDetector struct {
	Host string // defaults to 127.0.0.1
	Port int
}

func (d PortDetector) Alive() (bool, error) {
	if d.Port <= 0 {
		return false, fmt.Errorf("port detector requires a port")
	}
	host := d.Host
	if host == "" {
		host = "127.0.0.1"
	}
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, fmt.Sprintf("%d", d.Port)), time.Second)
	if err != nil {
		return false, nil
	}
	_ = conn.Close()
	return true, nil
}

func (d PortDetector) Describe() string { return fmt.Sprintf("port:%d", d.Port) }
