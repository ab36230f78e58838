package cbtest

import (
	"bufio"
	"bytes"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pior/couchbase/memd"
)

type dataNode struct {
	cluster  *Cluster
	listener net.Listener
	stalled  atomic.Bool

	mu       sync.Mutex
	sessions map[net.Conn]*session
}

func (n *dataNode) serve() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			return
		}
		s := &session{authed: n.cluster.opts.Username == ""}
		n.mu.Lock()
		n.sessions[conn] = s
		n.mu.Unlock()
		go n.handle(conn, s)
	}
}

func (n *dataNode) close() {
	_ = n.listener.Close()
	n.mu.Lock()
	defer n.mu.Unlock()
	for c := range n.sessions {
		_ = c.Close()
	}
}

// dropBucket closes the connections that selected b.
func (n *dataNode) dropBucket(b *Bucket) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for c, s := range n.sessions {
		if s.bucket == b {
			_ = c.Close()
		}
	}
}

// session is owned by its connection goroutine. bucket is written under
// dataNode.mu so that dropBucket can read it.
type session struct {
	authed bool
	bucket *Bucket
}

func (n *dataNode) handle(conn net.Conn, s *session) {
	defer func() {
		n.mu.Lock()
		delete(n.sessions, conn)
		n.mu.Unlock()
		_ = conn.Close()
	}()

	br := bufio.NewReader(conn)
	bw := bufio.NewWriter(conn)

	for {
		req, err := memd.ReadPacket(br)
		if err != nil {
			return
		}
		if n.stalled.Load() {
			continue
		}
		for _, resp := range n.respond(s, req) {
			if err := memd.WritePacket(bw, resp); err != nil {
				return
			}
		}
		if err := bw.Flush(); err != nil {
			return
		}
	}
}

func (n *dataNode) respond(s *session, req *memd.Packet) []*memd.Packet {
	resp := &memd.Packet{Magic: memd.MagicRes, OpCode: req.OpCode, Opaque: req.Opaque}
	status := func(st memd.Status, msg string) []*memd.Packet {
		resp.Status = st
		resp.Value = []byte(msg)
		return []*memd.Packet{resp}
	}

	switch req.OpCode {
	case memd.OpNoop:
		return []*memd.Packet{resp}

	case memd.OpSASLListMechs:
		return status(memd.StatusSuccess, "PLAIN")

	case memd.OpSASLAuth:
		if string(req.Key) != "PLAIN" {
			return status(memd.StatusAuthError, "Auth failure")
		}
		parts := bytes.Split(req.Value, []byte{0})
		if len(parts) != 3 || string(parts[1]) != n.cluster.opts.Username || string(parts[2]) != n.cluster.opts.Password {
			return status(memd.StatusAuthError, "Auth failure")
		}
		s.authed = true
		return status(memd.StatusSuccess, "Authenticated")

	case memd.OpSelectBucket:
		if !s.authed {
			return status(memd.StatusAccessError, "No access")
		}
		if !n.cluster.selectBucket(n, s, string(req.Key)) {
			return status(memd.StatusAccessError, "No access")
		}
		return []*memd.Packet{resp}
	}

	if !s.authed {
		return status(memd.StatusAuthError, "Auth failure")
	}
	if s.bucket == nil {
		return status(memd.StatusNoBucket, "No bucket selected")
	}

	switch req.OpCode {
	case memd.OpStat:
		items, ok := s.bucket.stats(string(req.Key))
		if !ok {
			return status(memd.StatusKeyNotFound, "Not found")
		}
		out := make([]*memd.Packet, 0, len(items)+1)
		for _, kv := range items {
			out = append(out, &memd.Packet{
				Magic: memd.MagicRes, OpCode: memd.OpStat, Opaque: req.Opaque,
				Key: []byte(kv[0]), Value: []byte(kv[1]),
			})
		}
		return append(out, resp)

	case memd.OpFlush:
		s.bucket.flush()
		return []*memd.Packet{resp}
	}

	return []*memd.Packet{s.bucket.execute(req)}
}
