package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// tcpPrecheck performs a quick TCP reachability probe before the
// slower SQL handshake, avoiding a full backend-auth round trip when
// the node is simply unreachable.
func tcpPrecheck(ctx context.Context, address string, timeout time.Duration) error {
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("tcp dial %s: %w", address, err)
	}
	return conn.Close()
}
