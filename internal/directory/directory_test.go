package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectory(t *testing.T) {
	d := New()

	t.Run("register and lookup", func(t *testing.T) {
		entry, err := d.Register("example-service", "10.0.0.5", 5557)
		require.NoError(t, err)
		assert.Equal(t, "tcp://10.0.0.5:5557", entry.URI)

		uri, ok := d.Lookup("example-service")
		require.True(t, ok)
		assert.Equal(t, "tcp://10.0.0.5:5557", uri)
	})

	t.Run("re-register replaces", func(t *testing.T) {
		_, err := d.Register("example-service", "10.0.0.6", 6000)
		require.NoError(t, err)

		uri, _ := d.Lookup("example-service")
		assert.Equal(t, "tcp://10.0.0.6:6000", uri)
		assert.Equal(t, 1, d.Len())
	})

	t.Run("list is sorted", func(t *testing.T) {
		d.Register("b-service", "h", 1)
		d.Register("a-service", "h", 2)
		assert.Equal(t, []string{"a-service", "b-service", "example-service"}, d.List())
	})

	t.Run("snapshot is a copy", func(t *testing.T) {
		all := d.AllWithURI()
		all["injected"] = "tcp://x:1"
		_, ok := d.Lookup("injected")
		assert.False(t, ok)
	})

	t.Run("deregister", func(t *testing.T) {
		assert.True(t, d.Deregister("a-service"))
		assert.False(t, d.Deregister("a-service"))
		_, ok := d.Lookup("a-service")
		assert.False(t, ok)
	})

	t.Run("invalid entries", func(t *testing.T) {
		for _, tc := range []struct {
			name, host string
			port       int
		}{
			{"", "h", 1},
			{"svc", "", 1},
			{"svc", "h", 0},
			{"svc", "h", 70000},
		} {
			_, err := d.Register(tc.name, tc.host, tc.port)
			assert.ErrorIs(t, err, ErrInvalidEntry)
		}
	})

	t.Run("close", func(t *testing.T) {
		d.Close()
		assert.Equal(t, 0, d.Len())
	})
}

func TestDirectoryConcurrentAccess(t *testing.T) {
	d := New()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("svc-%d", i%5)
			d.Register(name, "host", 1000+i)
			d.Lookup(name)
			d.List()
			d.AllWithURI()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, d.Len())
}

func newTestAPI(t *testing.T, status StatusFunc) (*Directory, *httptest.Server) {
	t.Helper()

	d := New()
	server := httptest.NewServer(NewAPIServer(d, status).Router())
	t.Cleanup(server.Close)
	return d, server
}

func TestAPIServer(t *testing.T) {
	status := func(uri string) (map[string]int64, error) {
		if uri == "tcp://down:1" {
			return nil, errors.New("control: no reply before timeout")
		}
		return map[string]int64{"ExampleHandler.Received_Requests": 12}, nil
	}
	d, server := newTestAPI(t, status)

	t.Run("register", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPut, server.URL+"/services/example-service",
			strings.NewReader(`{"host":"127.0.0.1","port":5557}`))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		uri, ok := d.Lookup("example-service")
		require.True(t, ok)
		assert.Equal(t, "tcp://127.0.0.1:5557", uri)
	})

	t.Run("register rejects bad input", func(t *testing.T) {
		for _, body := range []string{`{"host":"h"}`, `not json`} {
			req, _ := http.NewRequest(http.MethodPut, server.URL+"/services/x", strings.NewReader(body))
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		}
	})

	t.Run("list", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/services")
		require.NoError(t, err)
		defer resp.Body.Close()

		var listing struct {
			Services map[string]string `json:"services"`
			Count    int               `json:"count"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
		assert.Equal(t, 1, listing.Count)
		assert.Equal(t, "tcp://127.0.0.1:5557", listing.Services["example-service"])
	})

	t.Run("lookup", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/services/example-service")
		require.NoError(t, err)
		defer resp.Body.Close()

		var entry Entry
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&entry))
		assert.Equal(t, 5557, entry.Port)

		missing, err := http.Get(server.URL + "/services/nope")
		require.NoError(t, err)
		missing.Body.Close()
		assert.Equal(t, http.StatusNotFound, missing.StatusCode)
	})

	t.Run("status", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/services/example-service/status")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Counters map[string]int64 `json:"counters"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, int64(12), body.Counters["ExampleHandler.Received_Requests"])
	})

	t.Run("status of unreachable service", func(t *testing.T) {
		d.Register("down", "down", 1)
		resp, err := http.Get(server.URL + "/services/down/status")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	})

	t.Run("method not allowed", func(t *testing.T) {
		resp, err := http.Post(server.URL+"/services/example-service", "application/json", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})

	t.Run("deregister", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodDelete, server.URL+"/services/example-service", nil)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)

		_, ok := d.Lookup("example-service")
		assert.False(t, ok)
	})
}

func TestRegistrar(t *testing.T) {
	d, server := newTestAPI(t, nil)
	registrar := NewRegistrar(server.URL + "/")
	ctx := context.Background()

	require.NoError(t, registrar.Register(ctx, "example-service", "127.0.0.1", 5557))
	uri, ok := d.Lookup("example-service")
	require.True(t, ok)
	assert.Equal(t, "tcp://127.0.0.1:5557", uri)

	services, err := registrar.Services(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"example-service": "tcp://127.0.0.1:5557"}, services)

	err = registrar.Register(ctx, "bad", "", 0)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)

	require.NoError(t, registrar.Deregister(ctx, "example-service"))
	assert.Equal(t, 0, d.Len())

	// already gone
	assert.NoError(t, registrar.Deregister(ctx, "example-service"))
}
