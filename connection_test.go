package couchbase

import (
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/pior/couchbase/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenConnection_ConnectErrors(t *testing.T) {
	tests := []struct {
		name    string
		notices []fakeNotice
		kind    ErrorKind
		code    engine.Code
	}{
		{"auth", []fakeNotice{{engine.CodeAuthError, "SASL PLAIN: authentication failed"}}, KindConnection, engine.CodeAuthError},
		{"unknown host", []fakeNotice{{engine.CodeUnknownHost, "lookup nowhere"}}, KindConnection, engine.CodeUnknownHost},
		{"bucket not found", []fakeNotice{{engine.CodeBucketNotFound, "GET pools/default/buckets/x: not found"}}, KindConnection, engine.CodeBucketNotFound},
		{"last wins", []fakeNotice{{engine.CodeNetworkError, "first"}, {engine.CodeTimeout, "second"}}, KindTimeout, engine.CodeTimeout},
		{"benign after real", []fakeNotice{{engine.CodeConnectError, "refused"}, {engine.CodeAlreadyConnected, "dup"}}, KindConnection, engine.CodeConnectError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := newFakeTransport()
			ft.connectNotices = tt.notices

			client, err := NewClient("localhost", "", "", ft.config())
			require.NoError(t, err)

			_, err = client.Bucket("default")
			require.Error(t, err)
			require.ErrorIs(t, err, tt.kind)

			var cbErr *Error
			require.ErrorAs(t, err, &cbErr)
			assert.Equal(t, "connect", cbErr.Op)
			assert.Equal(t, "default", cbErr.Key)
			assert.Equal(t, tt.code, cbErr.Code)
			assert.True(t, ft.isClosed(), "a failed connection releases its transport")
		})
	}
}

func TestOpenConnection_BenignCodeIgnored(t *testing.T) {
	ft := newFakeTransport()
	ft.connectNotices = []fakeNotice{{engine.CodeAlreadyConnected, "connect already scheduled"}}

	client, err := NewClient("localhost", "", "", ft.config())
	require.NoError(t, err)

	b, err := client.Bucket("default")
	require.NoError(t, err)
	defer b.Close()
	assert.Empty(t, b.conn.r.errors, "the error log starts empty after connect")
}

func TestOpenConnection_TransportFailures(t *testing.T) {
	ft := newFakeTransport()
	ft.connectErr = engine.ErrClosed
	client, err := NewClient("localhost", "", "", ft.config())
	require.NoError(t, err)

	_, err = client.Bucket("default")
	require.ErrorIs(t, err, ErrClosed)

	cfg := Config{newTransport: func(engine.Options) (Transport, error) {
		return nil, fmt.Errorf("engine: host is required: %w", engine.CodeInvalidArgs)
	}}
	client, err = NewClient("localhost", "", "", cfg)
	require.NoError(t, err)
	_, err = client.Bucket("default")
	require.ErrorIs(t, err, ErrMalformedArgument)
}

func TestRouter_ErrorLogIsBounded(t *testing.T) {
	r := newRouter(slog.Default())
	for i := range maxLoggedErrors + 10 {
		r.Error(engine.CodeNetworkError, fmt.Sprintf("error %d", i))
	}
	require.Len(t, r.errors, maxLoggedErrors)
	assert.Equal(t, "error 10", r.errors[0].info)

	err := r.connectError()
	var cbErr *Error
	require.True(t, errors.As(err, &cbErr))
	assert.Equal(t, fmt.Sprintf("error %d", maxLoggedErrors+9), cbErr.Message)

	r.clearErrors()
	assert.NoError(t, r.connectError())
}

func TestRouter_SentinelSettlesSlots(t *testing.T) {
	r := newRouter(slog.Default())

	r.arm(slotStat)
	r.Stat(nil, "a:1", engine.CodeSuccess, "pid", "1")
	assert.True(t, r.stat.pending)
	r.Stat(nil, "", engine.CodeSuccess, "", "")
	assert.False(t, r.stat.pending)
	assert.Len(t, r.stat.entries, 1)

	r.arm(slotFlush)
	r.Flush(nil, "a:1", engine.CodeSuccess)
	r.Flush(nil, "b:1", engine.CodeNetworkError)
	assert.True(t, r.flush.pending)
	r.Flush(nil, "", engine.CodeSuccess)
	assert.False(t, r.flush.pending)
	require.Len(t, r.flush.acks, 2)
	assert.NoError(t, r.flush.acks[0].Err)
	assert.ErrorIs(t, r.flush.acks[1].Err, ErrConnection)

	// Arming clears the previous payload.
	r.arm(slotStat)
	assert.Empty(t, r.stat.entries)
	assert.True(t, r.stat.pending)
}
