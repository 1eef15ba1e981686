package relay

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
)

const maxHttpConnectHeaderBytes = 2048

var headerDelimiter = []byte("\r\n\r\n")

// HttpConnectHandshake drives the client side of an HTTP CONNECT
// request against an already-connected server socket to an upstream
// proxy, per spec.md §4.4. On success it returns any bytes already
// read past the header delimiter: per the Open Question decision in
// SPEC_FULL.md §9, the caller forwards these as the first bytes of
// downlink tunnel data rather than discarding or rejecting them.
func HttpConnectHandshake(ctx context.Context, conn net.Conn, target HostPort) (surplus []byte, err error) {
	authority := target.Address()
	request := fmt.Sprintf(
		"CONNECT %s HTTP/1.1\r\nHost: %s\r\nProxy-Connection: keep-alive\r\n\r\n",
		authority, authority,
	)

	if err := writeAll(ctx, conn, []byte(request)); err != nil {
		if err == context.DeadlineExceeded {
			return nil, &HttpHandshakeTimeoutError{Phase: "write"}
		}
		return nil, err
	}

	header, surplus, err := readUntilDelimiter(ctx, conn)
	if err != nil {
		if err == context.DeadlineExceeded {
			return nil, &HttpHandshakeTimeoutError{Phase: "read"}
		}
		return nil, err
	}

	statusCode, err := parseStatusLine(header)
	if err != nil {
		return nil, err
	}
	if statusCode != "200" {
		return nil, &HttpConnectRejectedError{StatusCode: statusCode}
	}
	return surplus, nil
}

// writeAll performs a partial-write loop, re-arming a fresh Watchdog
// for kHttpProxyHandshakeTimeout before every attempt, per spec.md
// §4.4.
func writeAll(parent context.Context, conn net.Conn, data []byte) error {
	for len(data) > 0 {
		timedOut, err := awaitWithTimeout(kHttpProxyHandshakeTimeout, func(watchCtx context.Context) error {
			joined, cancel := joinContexts(parent, watchCtx)
			defer cancel()
			return writeOnce(joined, conn, data, &data)
		})
		if timedOut {
			return context.DeadlineExceeded
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func writeOnce(ctx context.Context, conn net.Conn, data []byte, remaining *[]byte) error {
	done := make(chan error, 1)
	go func() {
		n, err := conn.Write(data)
		*remaining = data[n:]
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readUntilDelimiter reads into a growable buffer (capped at
// maxHttpConnectHeaderBytes) until "\r\n\r\n" is seen, under a single
// Watchdog armed for kHttpProxyHandshakeTimeout.
func readUntilDelimiter(parent context.Context, conn net.Conn) (header, surplus []byte, err error) {
	var buf []byte
	timedOut, readErr := awaitWithTimeout(kHttpProxyHandshakeTimeout, func(watchCtx context.Context) error {
		joined, cancel := joinContexts(parent, watchCtx)
		defer cancel()
		chunk := make([]byte, 256)
		for {
			if idx := bytes.Index(buf, headerDelimiter); idx >= 0 {
				header = buf[:idx]
				surplus = buf[idx+len(headerDelimiter):]
				return nil
			}
			if len(buf) >= maxHttpConnectHeaderBytes {
				return fmt.Errorf("tcprelay: http connect response header exceeded %d bytes", maxHttpConnectHeaderBytes)
			}
			n, err := readOnce(joined, conn, chunk)
			if n > 0 {
				buf = append(buf, chunk[:n]...)
				continue
			}
			if err != nil {
				return err
			}
		}
	})
	if timedOut {
		return nil, nil, context.DeadlineExceeded
	}
	return header, surplus, readErr
}

func readOnce(ctx context.Context, conn net.Conn, into []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := conn.Read(into)
		done <- result{n, err}
	}()
	select {
	case r := <-done:
		return r.n, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// parseStatusLine matches the first line of line (up to the first
// "\r\n") against "HTTP/1.[01] <status-code> <reason-phrase>"
// case-insensitively and returns the status code.
func parseStatusLine(line []byte) (string, error) {
	s := string(line)
	if i := strings.Index(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimRight(s, "\r\n")
	fields := strings.SplitN(s, " ", 3)
	if len(fields) < 3 {
		return "", &BadHttpResponseError{Line: s}
	}
	proto := strings.ToUpper(fields[0])
	if proto != "HTTP/1.0" && proto != "HTTP/1.1" {
		return "", &BadHttpResponseError{Line: s}
	}
	code := fields[1]
	if len(code) != 3 {
		return "", &BadHttpResponseError{Line: s}
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return "", &BadHttpResponseError{Line: s}
		}
	}
	return code, nil
}
