// Package transport provides the wire protocol and the TCP plumbing shared
// by both filepeer peers.
//
// # Wire Format
//
// Every request is one command frame on a fresh TCP connection. Strings are
// a big-endian uint16 byte length followed by that many UTF-8 bytes:
//
//	UPLOAD   <name>                 then the file bytes until end of stream
//	DOWNLOAD <name>
//	MOVE     <source-path> <target-dir>
//	DELETE   <name>
//
// The listener answers every command with a one-byte Status. A successful
// DOWNLOAD follows the status with the file size as a big-endian int64 and
// exactly that many bytes.
//
//	var buf bytes.Buffer
//	if err := transport.WriteCommand(&buf, transport.NewStoreCommand("a.txt")); err != nil {
//	    return err
//	}
//	cmd, err := transport.ReadCommand(conn) // payload stays unread in conn
//
// # Port Discovery
//
// There is no discovery protocol. Both peers share a PortRange (by default
// 100 ports from 5000). The Listener binds the first free port of the
// range; the Dialer tries every resolved address of the host and, for each
// address, every port in ascending order until one accepts:
//
//	l, err := transport.NewListener(transport.DefaultListenerConfig(), handler)
//	if err := l.Start(ctx); errors.Is(err, transport.ErrNoPortAvailable) {
//	    // every port of the range is taken
//	}
//
//	d, err := transport.NewDialer(transport.DefaultDialerConfig())
//	conn, err := d.Dial(ctx) // errors.Is(err, transport.ErrUnreachable) when nothing answers
//
// The scan stops at the first port that completes a TCP handshake. Another
// program listening on a lower port of the range therefore captures the
// initiator, which then fails at the protocol level; keep the range clear
// of unrelated services.
//
// The Dialer may route through a SOCKS5 or HTTP CONNECT proxy. Stores need
// a connection that supports half-close, which SOCKS5 connections do not.
//
// # Listener Lifecycle
//
// A Listener moves Idle, Scanning, Bound, Accepting and ends in Failed when
// no port can be bound or Stopped after Stop. Each accepted connection runs
// its Handler on its own goroutine; a panicking handler is logged and the
// accept loop continues. MaxConnections bounds concurrent connections.
// Stop waits for running handlers; with a ShutdownTimeout, connections still
// open when it elapses are closed so Stop returns.
package transport
