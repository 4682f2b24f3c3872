package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// LocalClient is a deterministic offline client used for dry runs and
// tests. Responses can be scripted per prompt substring; unmatched
// prompts get a canned acknowledgement. Each call reports a small fixed
// cost so budget accounting stays exercised offline.
type LocalClient struct {
	mu        sync.Mutex
	responses map[string]string
	calls     int

	// CostPerCall is charged per completion. Defaults to a cent.
	CostPerCall float64

	// Err, when set, is returned by every Complete call.
	Err error
}

// NewLocalClient creates a scripted offline client.
func NewLocalClient() *LocalClient {
	return &LocalClient{
		responses:   make(map[string]string),
		CostPerCall: 0.01,
	}
}

func (c *LocalClient) Provider() Provider { return ProviderLocal }

func (c *LocalClient) Validate(ctx context.Context) error { return nil }

// Script registers a response for any prompt containing substr.
func (c *LocalClient) Script(substr, response string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[substr] = response
}

// Calls returns how many completions have been served.
func (c *LocalClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *LocalClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	c.calls++

	text := fmt.Sprintf("ack %d", c.calls)
	for substr, resp := range c.responses {
		if strings.Contains(req.Prompt, substr) {
			text = resp
			break
		}
	}
	return &Response{
		Text:         text,
		InputTokens:  len(req.Prompt) / 4,
		OutputTokens: len(text) / 4,
		CostUSD:      c.CostPerCall,
	}, nil
}
