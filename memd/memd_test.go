package memd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePacketHeader(t *testing.T) {
	p := NewGet("foo", 5)
	p.Opaque = 7

	var buf bytes.Buffer
	require.NoError(t, WritePacket(&buf, p))

	expected := []byte{
		0x80, 0x00, 0x00, 0x03, 0x00, 0x00, 0x00, 0x05,
		0x00, 0x00, 0x00, 0x03, 0x00, 0x00, 0x00, 0x07,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		'f', 'o', 'o',
	}
	assert.Equal(t, expected, buf.Bytes())
}

func TestPacketRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pkt  *Packet
	}{
		{
			name: "store request",
			pkt:  NewStore(OpSet, "key", []byte("value"), 42, 60, 99, 12),
		},
		{
			name: "append has no extras",
			pkt:  NewStore(OpAppend, "key", []byte("tail"), 42, 60, 0, 3),
		},
		{
			name: "counter request",
			pkt:  NewCounter(OpIncrement, "counter", 5, 10, 0, 1),
		},
		{
			name: "get response",
			pkt: &Packet{
				Magic:  MagicRes,
				OpCode: OpGet,
				Status: StatusSuccess,
				Cas:    1234,
				Extras: FlagsExtras(7),
				Value:  []byte("hello"),
			},
		},
		{
			name: "error response",
			pkt: &Packet{
				Magic:  MagicRes,
				OpCode: OpAdd,
				Status: StatusKeyExists,
				Value:  []byte("Data exists for key"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.pkt.Opaque = 0xdeadbeef

			var buf bytes.Buffer
			require.NoError(t, WritePacket(&buf, tt.pkt))

			got, err := ReadPacket(&buf)
			require.NoError(t, err)
			assert.Equal(t, tt.pkt, got)
			assert.Zero(t, buf.Len(), "reader should consume the whole frame")
		})
	}
}

func TestStoreExtras(t *testing.T) {
	p := NewStore(OpAdd, "k", []byte("v"), 0x01020304, 0x0a0b0c0d, 0, 0)
	assert.Equal(t, []byte{1, 2, 3, 4, 0x0a, 0x0b, 0x0c, 0x0d}, p.Extras)

	p = NewStore(OpPrepend, "k", []byte("v"), 1, 1, 0, 0)
	assert.Nil(t, p.Extras)
}

func TestReadPacketErrors(t *testing.T) {
	valid := func() []byte {
		var buf bytes.Buffer
		require.NoError(t, WritePacket(&buf, NewStore(OpSet, "key", []byte("value"), 0, 0, 0, 0)))
		return buf.Bytes()
	}

	t.Run("unknown magic", func(t *testing.T) {
		data := valid()
		data[0] = 0x42
		_, err := ReadPacket(bytes.NewReader(data))
		var parseErr *ParseError
		require.ErrorAs(t, err, &parseErr)
		assert.True(t, ShouldCloseConnection(err))
	})

	t.Run("key longer than body", func(t *testing.T) {
		data := valid()
		data[2], data[3] = 0xff, 0xff
		_, err := ReadPacket(bytes.NewReader(data))
		var parseErr *ParseError
		require.ErrorAs(t, err, &parseErr)
	})

	t.Run("truncated body", func(t *testing.T) {
		data := valid()
		_, err := ReadPacket(bytes.NewReader(data[:len(data)-2]))
		var parseErr *ParseError
		require.ErrorAs(t, err, &parseErr)
	})

	t.Run("clean eof", func(t *testing.T) {
		_, err := ReadPacket(bytes.NewReader(nil))
		require.ErrorIs(t, err, io.EOF)
	})
}

func TestValidateKey(t *testing.T) {
	require.NoError(t, ValidateKey("with space is fine"))
	require.Error(t, ValidateKey(""))
	require.Error(t, ValidateKey(string(make([]byte, MaxKeyLength+1))))
	require.NoError(t, ValidateKey(string(bytes.Repeat([]byte("a"), MaxKeyLength))))
}

func TestResponseHelpers(t *testing.T) {
	p := &Packet{Extras: FlagsExtras(0xcafe), Value: CounterResponseValue(1 << 40)}
	assert.Equal(t, uint32(0xcafe), p.Flags())

	v, err := p.CounterValue()
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<40), v)

	_, err = (&Packet{Value: []byte("12")}).CounterValue()
	require.Error(t, err)

	assert.Zero(t, (&Packet{}).Flags())
}

func TestShouldCloseConnection(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"status error", &StatusError{OpCode: OpSASLAuth, Status: StatusAuthError}, false},
		{"invalid key", &InvalidKeyError{Message: "key is empty"}, false},
		{"parse error", &ParseError{Message: "bad"}, true},
		{"connection error", &ConnectionError{Op: "read", Err: io.EOF}, true},
		{"unknown error", errors.New("boom"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ShouldCloseConnection(tt.err))
		})
	}
}

// pipeConn returns a Conn whose server side is answered by respond.
// respond may return several packets, they are written in order.
func pipeConn(t *testing.T, respond func(req *Packet) []*Packet) *Conn {
	t.Helper()
	client, server := net.Pipe()
	c := NewConn(client, nil)

	go func() {
		defer server.Close()
		for {
			req, err := ReadPacket(server)
			if err != nil {
				return
			}
			for _, resp := range respond(req) {
				if err := WritePacket(server, resp); err != nil {
					return
				}
			}
		}
	}()

	t.Cleanup(func() { _ = c.Close() })
	return c
}

func reply(req *Packet, status Status, value string) *Packet {
	return &Packet{Magic: MagicRes, OpCode: req.OpCode, Status: status, Opaque: req.Opaque, Value: []byte(value)}
}

func TestConnCorrelatesOutOfOrderResponses(t *testing.T) {
	var held *Packet
	c := pipeConn(t, func(req *Packet) []*Packet {
		if held == nil {
			held = req
			return nil
		}
		// Answer the second request before the first.
		return []*Packet{reply(req, StatusSuccess, string(req.Key)), reply(held, StatusSuccess, string(held.Key))}
	})

	type result struct {
		key   string
		value string
	}
	results := make(chan result, 2)
	for _, key := range []string{"first", "second"} {
		_, err := c.Dispatch(NewGet(key, 0), func(p *Packet, err error) {
			if !assert.NoError(t, err) {
				results <- result{key: key}
				return
			}
			results <- result{key: key, value: string(p.Value)}
		})
		require.NoError(t, err)
	}

	r1 := <-results
	r2 := <-results
	assert.Equal(t, result{"second", "second"}, r1)
	assert.Equal(t, result{"first", "first"}, r2)
}

func TestConnExchangeStatStream(t *testing.T) {
	c := pipeConn(t, func(req *Packet) []*Packet {
		return []*Packet{
			{Magic: MagicRes, OpCode: OpStat, Opaque: req.Opaque, Key: []byte("pid"), Value: []byte("42")},
			{Magic: MagicRes, OpCode: OpStat, Opaque: req.Opaque, Key: []byte("uptime"), Value: []byte("7")},
			{Magic: MagicRes, OpCode: OpStat, Opaque: req.Opaque},
		}
	})

	stats := map[string]string{}
	resp, err := c.Exchange(context.Background(), NewStat(""), func(p *Packet) {
		stats[string(p.Key)] = string(p.Value)
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, resp.Status)
	assert.Empty(t, resp.Key)
	assert.Equal(t, map[string]string{"pid": "42", "uptime": "7"}, stats)
}

func TestConnFailsPendingOnConnectionLoss(t *testing.T) {
	client, server := net.Pipe()
	c := NewConn(client, nil)
	defer c.Close()

	go func() {
		_, _ = ReadPacket(server)
		server.Close()
	}()

	_, err := c.Exchange(context.Background(), NewGet("key", 0), nil)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.True(t, ShouldCloseConnection(err))
	assert.True(t, c.IsClosed())
	require.Error(t, c.Err())

	_, err = c.Dispatch(NewNoop(), func(*Packet, error) {})
	require.ErrorIs(t, err, ErrClosed)
}

func TestConnExchangeTimeoutDropsLateResponse(t *testing.T) {
	late := make(chan *Packet, 1)
	c := pipeConn(t, func(req *Packet) []*Packet {
		if string(req.Key) == "slow" {
			late <- req
			return nil
		}
		var out []*Packet
		select {
		case held := <-late:
			out = append(out, reply(held, StatusSuccess, "too late"))
		default:
		}
		return append(out, reply(req, StatusSuccess, "fast"))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Exchange(ctx, NewGet("slow", 0), nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	resp, err := c.Exchange(context.Background(), NewGet("fast", 0), nil)
	require.NoError(t, err)
	assert.Equal(t, "fast", string(resp.Value))
	assert.False(t, c.IsClosed())
}

func TestConnDispatchRejectsInvalidHeader(t *testing.T) {
	c := pipeConn(t, func(req *Packet) []*Packet { return nil })

	p := NewGet(string(make([]byte, 0x10000)), 0)
	_, err := c.Dispatch(p, func(*Packet, error) { t.Error("handler must not run") })
	var keyErr *InvalidKeyError
	require.ErrorAs(t, err, &keyErr)
	assert.False(t, c.IsClosed())
}

func TestAuthenticate(t *testing.T) {
	c := pipeConn(t, func(req *Packet) []*Packet {
		switch req.OpCode {
		case OpSASLAuth:
			if string(req.Key) == "PLAIN" && string(req.Value) == "\x00admin\x00secret" {
				return []*Packet{reply(req, StatusSuccess, "Authenticated")}
			}
			return []*Packet{reply(req, StatusAuthError, "Auth failure")}
		case OpSelectBucket:
			if string(req.Key) == "default" {
				return []*Packet{reply(req, StatusSuccess, "")}
			}
			return []*Packet{reply(req, StatusAccessError, "")}
		}
		return []*Packet{reply(req, StatusUnknownCommand, "")}
	})

	ctx := context.Background()
	require.NoError(t, Authenticate(ctx, c, "admin", "secret"))
	require.NoError(t, SelectBucket(ctx, c, "default"))

	err := Authenticate(ctx, c, "admin", "wrong")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, StatusAuthError, statusErr.Status)
	assert.False(t, ShouldCloseConnection(err))

	err = SelectBucket(ctx, c, "missing")
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, StatusAccessError, statusErr.Status)
}

func TestStringers(t *testing.T) {
	assert.Equal(t, "GET", OpGet.String())
	assert.Equal(t, "OpCode(0x77)", OpCode(0x77).String())
	assert.Equal(t, "key not found", StatusKeyNotFound.String())
	assert.Equal(t, "Status(0x0099)", Status(0x99).String())
}
