package health

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPPrecheckSucceedsAgainstOpenPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	err = tcpPrecheck(context.Background(), ln.Addr().String(), time.Second)
	assert.NoError(t, err)
}

func TestTCPPrecheckFailsAgainstClosedPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	err = tcpPrecheck(context.Background(), addr, time.Second)
	assert.Error(t, err)
}
