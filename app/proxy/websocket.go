package proxy

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/axonhttp/axon/lib/web"
)

// serveWebSocket relays an upgrade request as raw sockets: validate, dial the
// backend, relay its verdict and, on 101, pipe bytes both ways until either
// side goes away.
func (p *Proxy) serveWebSocket(c *web.Context) error {
	r := c.Request.Request

	hj, ok := c.Writer().(http.Hijacker)
	if !ok {
		return web.NewError(http.StatusInternalServerError, "upgrade not supported by transport")
	}
	clientConn, clientBuf, err := hj.Hijack()
	if err != nil {
		return web.WrapError(http.StatusInternalServerError, err, "hijack failed")
	}
	c.Respond = false // raw socket ownership from here on

	// a malformed upgrade gets the socket dropped with zero bytes written,
	// there is no http response to negotiate with
	if r.Method != http.MethodGet || !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		log.Printf("[DEBUG] refusing upgrade %s %s", r.Method, c.Request.OriginalURL)
		_ = clientConn.Close()
		return nil
	}

	tuneSocket(clientConn)

	backendConn, err := p.dialBackend()
	if err != nil {
		log.Printf("[WARN] websocket dial %s failed: %v", p.opts.Target.Host, err)
		_ = clientConn.Close()
		return nil
	}
	tuneSocket(backendConn)

	closeBoth := closeOnce(clientConn, backendConn)

	if err = p.writeUpgradeRequest(c, backendConn); err != nil {
		log.Printf("[WARN] websocket request to %s failed: %v", p.opts.Target.Host, err)
		closeBoth()
		return nil
	}

	backendBuf := bufio.NewReader(backendConn)
	resp, err := http.ReadResponse(backendBuf, r)
	if err != nil {
		log.Printf("[WARN] websocket backend response failed: %v", err)
		closeBoth()
		return nil
	}

	if resp.StatusCode != http.StatusSwitchingProtocols {
		// the backend refused the upgrade with a plain response. relay it
		// verbatim, unless the client hung up while we were waiting.
		defer closeBoth()
		if clientGone(clientConn, clientBuf.Reader) {
			log.Printf("[DEBUG] client left before upgrade verdict")
			_ = resp.Body.Close()
			return nil
		}
		_ = resp.Write(clientConn)
		return nil
	}
	_ = resp.Body.Close()

	if err = writeSwitchingProtocols(clientConn, resp.Header); err != nil {
		closeBoth()
		return nil
	}

	// flush bytes already sitting in either handshake buffer before the pipe
	// starts so nothing is lost
	if n := clientBuf.Reader.Buffered(); n > 0 {
		head, _ := clientBuf.Reader.Peek(n)
		if _, err = backendConn.Write(head); err != nil {
			closeBoth()
			return nil
		}
		_, _ = clientBuf.Reader.Discard(n)
	}
	if n := backendBuf.Buffered(); n > 0 {
		head, _ := backendBuf.Peek(n)
		if _, err = clientConn.Write(head); err != nil {
			closeBoth()
			return nil
		}
		_, _ = backendBuf.Discard(n)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(backendConn, clientConn)
		closeBoth()
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(clientConn, backendConn)
		closeBoth()
	}()
	wg.Wait()
	return nil
}

// dialBackend opens the raw backend socket, with tls when the target wants it.
func (p *Proxy) dialBackend() (net.Conn, error) {
	dialTimeout := p.opts.Timeout
	if dialTimeout == 0 {
		dialTimeout = 10 * time.Second
	}
	addr := p.opts.Target.Host
	if !strings.Contains(addr, ":") {
		if p.opts.Target.Scheme == "https" {
			addr += ":443"
		} else {
			addr += ":80"
		}
	}
	if p.opts.Target.Scheme == "https" {
		return tls.DialWithDialer(&net.Dialer{Timeout: dialTimeout}, "tcp", addr, &tls.Config{
			ServerName:         p.opts.Target.Hostname(),
			InsecureSkipVerify: !p.opts.Secure, //nolint:gosec // disabled only when asked to
		})
	}
	return net.DialTimeout("tcp", addr, dialTimeout)
}

// writeUpgradeRequest re-issues the inbound handshake on the backend socket,
// keeping the upgrade headers the plain http path strips.
func (p *Proxy) writeUpgradeRequest(c *web.Context, conn net.Conn) error {
	r := c.Request.Request

	reqPath := singleJoiningSlash(p.opts.Target.Path, c.Path())
	if r.URL.RawQuery != "" {
		reqPath += "?" + r.URL.RawQuery
	}

	host := r.Host
	if p.opts.ChangeOrigin {
		host = hostWithoutDefaultPort(p.opts.Target)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "GET %s HTTP/1.1\r\n", reqPath)
	fmt.Fprintf(&b, "Host: %s\r\n", host)
	b.WriteString("Connection: Upgrade\r\n")
	b.WriteString("Upgrade: websocket\r\n")

	for k, vv := range r.Header {
		if isHopHeader(k) || k == "Host" {
			continue
		}
		for _, v := range vv {
			fmt.Fprintf(&b, "%s: %s\r\n", k, v)
		}
	}
	if p.opts.XFwd {
		proto := "ws"
		if c.Request.Secure() {
			proto = "wss"
		}
		if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			fmt.Fprintf(&b, "X-Forwarded-For: %s\r\n", ip)
		}
		fmt.Fprintf(&b, "X-Forwarded-Proto: %s\r\n", proto)
		fmt.Fprintf(&b, "X-Forwarded-Host: %s\r\n", r.Host)
	}
	b.WriteString("\r\n")

	_, err := conn.Write([]byte(b.String()))
	return err
}

// writeSwitchingProtocols re-serializes the backend's 101 to the client.
func writeSwitchingProtocols(conn net.Conn, header http.Header) error {
	var b strings.Builder
	b.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	if err := header.Write(&b); err != nil {
		return err
	}
	b.WriteString("\r\n")
	_, err := conn.Write([]byte(b.String()))
	return err
}

// tuneSocket applies the long-lived-connection options: no write coalescing,
// keep-alive probes, no deadline.
func tuneSocket(conn net.Conn) {
	raw := conn
	if tc, ok := raw.(*tls.Conn); ok {
		raw = tc.NetConn()
	}
	if tcp, ok := raw.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}
	_ = conn.SetDeadline(time.Time{})
}

// clientGone peeks the hijacked connection without consuming to learn whether
// the client already closed while the backend verdict was pending.
func clientGone(conn net.Conn, rd *bufio.Reader) bool {
	_ = conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()
	_, err := rd.Peek(1)
	if err == nil {
		return false
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return false // still connected, just quiet
	}
	return true
}

// closeOnce makes the single-fire teardown closing both pipe ends together.
func closeOnce(a, b net.Conn) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			_ = a.Close()
			_ = b.Close()
		})
	}
}
