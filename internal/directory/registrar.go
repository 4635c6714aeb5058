package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MnAnX/Infra/internal/logger"
	"github.com/rs/zerolog"
)

// Registrar registers a service with a remote directory API
type Registrar struct {
	httpClient *http.Client
	baseURL    string
	logger     zerolog.Logger
}

// NewRegistrar creates a client for the directory API at baseURL,
// e.g. "http://monitor:8090"
func NewRegistrar(baseURL string) *Registrar {
	return &Registrar{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.GetLogger("directory.registrar"),
	}
}

func (r *Registrar) serviceURL(name string) string {
	return fmt.Sprintf("%s/services/%s", r.baseURL, url.PathEscape(name))
}

// Register announces name at host:port
func (r *Registrar) Register(ctx context.Context, name, host string, port int) error {
	body, err := json.Marshal(map[string]interface{}{
		"host": host,
		"port": port,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal registration: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, r.serviceURL(name), bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if err := r.do(req); err != nil {
		return fmt.Errorf("failed to register %s: %w", name, err)
	}

	r.logger.Info().
		Str("service", name).
		Str("monitor", r.baseURL).
		Msg("Registered with monitor")
	return nil
}

// Deregister removes name. A name the directory does not know is not an error.
func (r *Registrar) Deregister(ctx context.Context, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, r.serviceURL(name), nil)
	if err != nil {
		return fmt.Errorf("failed to create deregistration request: %w", err)
	}

	if err := r.do(req); err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to deregister %s: %w", name, err)
	}

	r.logger.Info().
		Str("service", name).
		Msg("Deregistered from monitor")
	return nil
}

// Services lists the name to URI map held by the directory
func (r *Registrar) Services(ctx context.Context) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/services", nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var listing struct {
		Services map[string]string `json:"services"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("invalid service listing: %w", err)
	}
	return listing.Services, nil
}

func (r *Registrar) do(req *http.Request) error {
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	return nil
}

// HTTPError is a non-2xx reply from the directory API
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("directory request failed with status %d: %s", e.StatusCode, e.Body)
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

func isNotFound(err error) bool {
	httpErr, ok := err.(*HTTPError)
	return ok && httpErr.StatusCode == http.StatusNotFound
}
