package kafka

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A wedged broker must fail the publish within the deadline rather than
// stall the calling goroutine indefinitely.
func TestPublish_FailsWithinDeadlineWhenBrokerStalls(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	// Accept connections and hold them open without ever answering.
	done := make(chan struct{})
	go func() {
		defer close(done)
		var conns []net.Conn
		defer func() {
			for _, c := range conns {
				c.Close()
			}
		}()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conns = append(conns, conn)
		}
	}()

	p := NewPublisher([]string{ln.Addr().String()}, "ledger.alerts")
	p.timeout = 500 * time.Millisecond
	defer p.Close()

	start := time.Now()
	err = p.Publish("ledger.integrity_failure", map[string]string{"detail": "checksum mismatch"})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	ln.Close()
	<-done
}
