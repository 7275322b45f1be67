package testutil

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// RedisServer speaks enough of the Redis protocol (RESP2) for the cache and
// presence mirror tests: strings, hashes, EXPIRE and MULTI/EXEC.
// HELLO and CLIENT are refused so clients fall back to RESP2.
type RedisServer struct {
	ln net.Listener

	mu       sync.Mutex
	strs     map[string]string
	hashes   map[string]map[string]string
	ttls     map[string]time.Duration
	failing  bool
	failures int
	conns    map[net.Conn]struct{}

	wg sync.WaitGroup
}

// NewRedisServer starts a server on a random local port. It is closed when
// the test ends.
func NewRedisServer(t *testing.T) *RedisServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}

	s := &RedisServer{
		ln:     ln,
		strs:   make(map[string]string),
		hashes: make(map[string]map[string]string),
		ttls:   make(map[string]time.Duration),
		conns:  make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// Addr is the host:port clients dial.
func (s *RedisServer) Addr() string {
	return s.ln.Addr().String()
}

// SetFailing makes every data command answer with an error, and every
// transaction abort, until called with false.
func (s *RedisServer) SetFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

// Failures counts commands and transactions refused while failing.
func (s *RedisServer) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// Hash returns a copy of the hash stored at key, or nil.
func (s *RedisServer) Hash(key string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[key]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// TTL is the last expiry set on key, zero if none.
func (s *RedisServer) TTL(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttls[key]
}

// Keys lists every stored key.
func (s *RedisServer) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.strs {
		keys = append(keys, k)
	}
	for k := range s.hashes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *RedisServer) Close() {
	s.ln.Close()
	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *RedisServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *RedisServer) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	var (
		inTx  bool
		queue [][]string
	)
	for {
		args, err := readCommand(r)
		if err != nil {
			return
		}
		if len(args) == 0 {
			continue
		}

		var reply string
		switch strings.ToUpper(args[0]) {
		case "MULTI":
			inTx, queue = true, nil
			reply = "+OK\r\n"
		case "DISCARD":
			inTx, queue = false, nil
			reply = "+OK\r\n"
		case "EXEC":
			reply = s.exec(queue)
			inTx, queue = false, nil
		default:
			if inTx {
				queue = append(queue, args)
				reply = "+QUEUED\r\n"
			} else {
				reply = s.do(args)
			}
		}

		if _, err := w.WriteString(reply); err != nil {
			return
		}
		// Pipelined commands arrive together; flush once the batch is read.
		if r.Buffered() == 0 {
			if err := w.Flush(); err != nil {
				return
			}
		}
	}
}

func (s *RedisServer) exec(queue [][]string) string {
	s.mu.Lock()
	if s.failing {
		s.failures++
		s.mu.Unlock()
		return "-EXECABORT Transaction discarded because of previous errors.\r\n"
	}
	s.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "*%d\r\n", len(queue))
	for _, args := range queue {
		b.WriteString(s.do(args))
	}
	return b.String()
}

func (s *RedisServer) do(args []string) string {
	cmd := strings.ToUpper(args[0])
	switch cmd {
	case "PING":
		return "+PONG\r\n"
	case "HELLO", "CLIENT":
		return fmt.Sprintf("-ERR unknown command '%s'\r\n", args[0])
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failing {
		s.failures++
		return "-ERR injected failure\r\n"
	}

	switch {
	case cmd == "GET" && len(args) == 2:
		v, ok := s.strs[args[1]]
		if !ok {
			return "$-1\r\n"
		}
		return bulk(v)
	case cmd == "SET" && len(args) >= 3:
		s.strs[args[1]] = args[2]
		delete(s.ttls, args[1])
		for i := 3; i+1 < len(args); i += 2 {
			n, err := strconv.ParseInt(args[i+1], 10, 64)
			if err != nil {
				return "-ERR value is not an integer\r\n"
			}
			switch strings.ToUpper(args[i]) {
			case "EX":
				s.ttls[args[1]] = time.Duration(n) * time.Second
			case "PX":
				s.ttls[args[1]] = time.Duration(n) * time.Millisecond
			}
		}
		return "+OK\r\n"
	case cmd == "DEL" && len(args) >= 2:
		n := 0
		for _, k := range args[1:] {
			if s.exists(k) {
				n++
			}
			delete(s.strs, k)
			delete(s.hashes, k)
			delete(s.ttls, k)
		}
		return fmt.Sprintf(":%d\r\n", n)
	case cmd == "EXPIRE" && len(args) >= 3:
		secs, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return "-ERR value is not an integer\r\n"
		}
		if !s.exists(args[1]) {
			return ":0\r\n"
		}
		s.ttls[args[1]] = time.Duration(secs) * time.Second
		return ":1\r\n"
	case cmd == "HINCRBY" && len(args) == 4:
		delta, err := strconv.ParseInt(args[3], 10, 64)
		if err != nil {
			return "-ERR value is not an integer\r\n"
		}
		h, ok := s.hashes[args[1]]
		if !ok {
			h = make(map[string]string)
			s.hashes[args[1]] = h
		}
		cur, _ := strconv.ParseInt(h[args[2]], 10, 64)
		cur += delta
		h[args[2]] = strconv.FormatInt(cur, 10)
		return fmt.Sprintf(":%d\r\n", cur)
	case cmd == "HDEL" && len(args) >= 3:
		h := s.hashes[args[1]]
		n := 0
		for _, f := range args[2:] {
			if _, ok := h[f]; ok {
				delete(h, f)
				n++
			}
		}
		if h != nil && len(h) == 0 {
			delete(s.hashes, args[1])
			delete(s.ttls, args[1])
		}
		return fmt.Sprintf(":%d\r\n", n)
	case cmd == "HGETALL" && len(args) == 2:
		h := s.hashes[args[1]]
		fields := make([]string, 0, len(h))
		for f := range h {
			fields = append(fields, f)
		}
		sort.Strings(fields)

		var b strings.Builder
		fmt.Fprintf(&b, "*%d\r\n", 2*len(fields))
		for _, f := range fields {
			b.WriteString(bulk(f))
			b.WriteString(bulk(h[f]))
		}
		return b.String()
	default:
		return fmt.Sprintf("-ERR unknown command '%s'\r\n", args[0])
	}
}

func (s *RedisServer) exists(key string) bool {
	if _, ok := s.strs[key]; ok {
		return true
	}
	_, ok := s.hashes[key]
	return ok
}

func bulk(v string) string {
	return fmt.Sprintf("$%d\r\n%s\r\n", len(v), v)
}

func readCommand(r *bufio.Reader) ([]string, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	if len(line) == 0 || line[0] != '*' {
		return strings.Fields(line), nil
	}

	n, err := strconv.Atoi(line[1:])
	if err != nil {
		return nil, fmt.Errorf("bad array header %q", line)
	}
	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		hdr, err := readLine(r)
		if err != nil {
			return nil, err
		}
		if len(hdr) == 0 || hdr[0] != '$' {
			return nil, fmt.Errorf("bad bulk header %q", hdr)
		}
		size, err := strconv.Atoi(hdr[1:])
		if err != nil {
			return nil, fmt.Errorf("bad bulk header %q", hdr)
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
