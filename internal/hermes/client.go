// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hermes

import (
	"fmt"
	"sync"
	"time"

	"github.com/MnAnX/Infra/internal/logger"
	"github.com/MnAnX/Infra/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultRequestTimeout is used by Request when the client was created without one
const DefaultRequestTimeout = 5 * time.Second

// ClientStats represents client statistics
type ClientStats struct {
	RequestsSent      int `json:"requests_sent"`
	ResponsesReceived int `json:"responses_received"`
	RequestsTimeout   int `json:"requests_timeout"`
	StaleDiscarded    int `json:"stale_discarded"`
}

// HermesClient sends keys to a broker frontend (or a control endpoint) and
// waits a bounded time for the correlated reply. Requests on one client are
// serialized: one request is in flight at a time.
type HermesClient struct {
	conn    *transport.Dealer
	timeout time.Duration
	logger  zerolog.Logger
	stats   ClientStats
	mutex   sync.Mutex
}

// NewClient connects to endpoint. timeout is the default budget of Request;
// zero selects DefaultRequestTimeout and a negative value waits forever.
func NewClient(endpoint string, timeout time.Duration) (*HermesClient, error) {
	if timeout == 0 {
		timeout = DefaultRequestTimeout
	}

	conn, err := transport.NewDealer(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}

	return &HermesClient{
		conn:    conn,
		timeout: timeout,
		logger:  logger.GetLogger("hermes.client").With().Str("endpoint", endpoint).Logger(),
	}, nil
}

// Request sends key and waits for the reply with the default timeout
func (c *HermesClient) Request(key string) (*Reply, bool, error) {
	return c.RequestWithTimeout(key, c.timeout)
}

// RequestWithTimeout sends key and waits up to timeout for its reply. ok is
// false when no reply arrived in time; err is only set for transport failures.
// Replies to earlier requests that timed out are recognised by their request
// id and discarded.
func (c *HermesClient) RequestWithTimeout(key string, timeout time.Duration) (reply *Reply, ok bool, err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	requestID := uuid.NewString()

	c.logger.Debug().
		Str("message_id", requestID).
		Str("key", key).
		Dur("timeout", timeout).
		Msg("Sending request")

	frames, err := Encode([][]byte{[]byte(requestID)}, []byte(key))
	if err != nil {
		return nil, false, err
	}
	if err := c.conn.SendMessage(frames); err != nil {
		return nil, false, err
	}
	c.stats.RequestsSent++

	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		wait := transport.Forever
		if !deadline.IsZero() {
			wait = time.Until(deadline)
			if wait <= 0 {
				c.stats.RequestsTimeout++
				return nil, false, nil
			}
		}

		msg, ok, err := c.conn.ReceiveMessage(wait)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			c.stats.RequestsTimeout++
			return nil, false, nil
		}

		env, err := Decode(msg)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Dropping malformed reply")
			continue
		}
		if env.Sender() != requestID || len(env.Trail) != 1 {
			c.stats.StaleDiscarded++
			c.logger.Debug().
				Str("message_id", env.Sender()).
				Msg("Discarding stale reply")
			continue
		}

		c.stats.ResponsesReceived++
		reply = ParseReplyBody(env.Body)
		reply.Trail = env.Trail
		return reply, true, nil
	}
}

// GetStats returns client statistics
func (c *HermesClient) GetStats() ClientStats {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.stats
}

// Close releases the connection
func (c *HermesClient) Close() error {
	return c.conn.Close()
}
