package control

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MnAnX/Infra/internal/status"
	"github.com/MnAnX/Infra/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		req, err := ParseRequest([]byte(`{"command":"lookup","key":"1700000000","params":{"format":"raw"}}`))
		require.NoError(t, err)
		assert.Equal(t, "lookup", req.Command)
		assert.Equal(t, "1700000000", req.Key)
		assert.Equal(t, "raw", req.Param("format"))
		assert.Equal(t, "", req.Param("missing"))
	})

	t.Run("bare command", func(t *testing.T) {
		req, err := ParseRequest([]byte(" status\n"))
		require.NoError(t, err)
		assert.Equal(t, "status", req.Command)
		assert.Empty(t, req.Key)
	})

	t.Run("round trip", func(t *testing.T) {
		body, err := NewRequest("stop", "").Encode()
		require.NoError(t, err)
		req, err := ParseRequest(body)
		require.NoError(t, err)
		assert.Equal(t, "stop", req.Command)
	})

	for name, body := range map[string]string{
		"empty":         "",
		"broken json":   `{"command":`,
		"empty command": `{"command":"  ","key":"k"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRequest([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestHandlerBaseCommands(t *testing.T) {
	registry := status.NewRegistry()
	registry.Register("ExampleHandler.Received_Requests").Add(7)

	var stopped atomic.Bool
	stopCalled := make(chan struct{})
	h := NewHandler("example-service", registry, func() {
		stopped.Store(true)
		close(stopCalled)
	})

	t.Run("ping", func(t *testing.T) {
		reply, err := h.Dispatch(NewRequest("ping", ""))
		require.NoError(t, err)
		assert.Equal(t, "pong", reply)
	})

	t.Run("status returns every counter", func(t *testing.T) {
		reply, err := h.Dispatch(NewRequest("status", ""))
		require.NoError(t, err)
		assert.JSONEq(t, `{"ExampleHandler.Received_Requests":7}`, reply)
	})

	t.Run("status of one counter", func(t *testing.T) {
		reply, err := h.Dispatch(NewRequest("status", "ExampleHandler.Received_Requests"))
		require.NoError(t, err)
		assert.Equal(t, "7", reply)

		_, err = h.Dispatch(NewRequest("status", "Nope"))
		assert.Error(t, err)
	})

	t.Run("command names are case insensitive", func(t *testing.T) {
		reply, err := h.Dispatch(NewRequest("PING", ""))
		require.NoError(t, err)
		assert.Equal(t, "pong", reply)
	})

	t.Run("commands", func(t *testing.T) {
		reply, err := h.Dispatch(NewRequest("commands", ""))
		require.NoError(t, err)
		assert.Equal(t, "commands,ping,status,stop", reply)
	})

	t.Run("unknown command is an error, not a crash", func(t *testing.T) {
		_, err := h.Dispatch(NewRequest("reboot", ""))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown command [reboot]")
	})

	t.Run("stop", func(t *testing.T) {
		reply, err := h.Dispatch(NewRequest("stop", ""))
		require.NoError(t, err)
		assert.Contains(t, reply, "example-service")
		select {
		case <-stopCalled:
		case <-time.After(time.Second):
			t.Fatal("stop function was never called")
		}
		assert.True(t, stopped.Load())
	})
}

func TestHandlerCustomCommands(t *testing.T) {
	h := NewHandler("svc", nil, nil)

	h.Register("echo", func(req *Request) (string, error) {
		return req.Key, nil
	})
	h.Register("explode", func(*Request) (string, error) {
		panic("bad command")
	})

	reply, err := h.Dispatch(NewRequest("echo", "hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", reply)

	_, err = h.Dispatch(NewRequest("explode", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad command")

	_, err = h.Dispatch(NewRequest("stop", ""))
	assert.Error(t, err, "stop without a stop function must fail")

	reply, err = h.Dispatch(NewRequest("status", ""))
	require.NoError(t, err)
	assert.Equal(t, "{}", reply)
}

func freeEndpoint(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return transport.URI("127.0.0.1", port)
}

func startServer(t *testing.T, h *Handler) *Server {
	t.Helper()

	server := NewServer(freeEndpoint(t), h)
	server.pollInterval = 20 * time.Millisecond
	require.NoError(t, server.Start())
	t.Cleanup(func() { server.Stop() })
	return server
}

func TestServerAndClient(t *testing.T) {
	registry := status.NewRegistry()
	registry.Register("Broker.Requests").Add(3)

	stopCalled := make(chan struct{})
	h := NewHandler("example-service", registry, func() { close(stopCalled) })
	h.Register("fail", func(req *Request) (string, error) {
		return "", errors.New("Field 'key' cannot be empty in the request.")
	})
	server := startServer(t, h)

	client, err := NewClient(server.Endpoint(), 2*time.Second)
	require.NoError(t, err)
	defer client.Close()

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, client.Ping())
	})

	t.Run("status", func(t *testing.T) {
		counters, err := client.Status()
		require.NoError(t, err)
		assert.Equal(t, int64(3), counters["Broker.Requests"])
	})

	t.Run("command error becomes error reply", func(t *testing.T) {
		reply, err := client.Send(NewRequest("fail", ""))
		require.NoError(t, err)
		assert.True(t, reply.IsError)
		assert.Equal(t, "Field 'key' cannot be empty in the request.", reply.ErrorMessage)
	})

	t.Run("unknown command keeps the server alive", func(t *testing.T) {
		_, err := client.Call("nonexistent", "")
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "unknown command"))
		assert.NoError(t, client.Ping())
	})

	t.Run("stop", func(t *testing.T) {
		reply, err := client.Stop()
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("Service %s is stopping", "example-service"), reply)
		select {
		case <-stopCalled:
		case <-time.After(time.Second):
			t.Fatal("stop was not triggered")
		}
	})
}

func TestClientNoReply(t *testing.T) {
	// nothing listens on this endpoint
	client, err := NewClient(freeEndpoint(t), 100*time.Millisecond)
	require.NoError(t, err)
	defer client.Close()

	err = client.Ping()
	assert.ErrorIs(t, err, ErrNoReply)
}

func TestServerBindFailure(t *testing.T) {
	first := startServer(t, NewHandler("a", nil, nil))

	second := NewServer(first.Endpoint(), NewHandler("b", nil, nil))
	assert.Error(t, second.Start())
	assert.NoError(t, second.Stop())
}
