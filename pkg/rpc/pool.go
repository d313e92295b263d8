package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Pool errors.
var (
	ErrNoEndpoints = errors.New("no runner endpoints")
	ErrPoolClosed  = errors.New("pool is closed")
)

// DefaultCooldown is how long an unreachable runner is skipped.
const DefaultCooldown = 30 * time.Second

// endpointState tracks one runner.
type endpointState struct {
	addr      string
	downUntil atomic.Int64 // Unix nano timestamp
	failCount atomic.Int32

	mu     sync.Mutex
	client *Client
}

func (ep *endpointState) healthy(now time.Time) bool {
	return now.UnixNano() >= ep.downUntil.Load()
}

// Pool spreads requests over several runners round-robin. A runner that is
// unreachable is skipped for the cooldown period and the request moves on
// to the next one.
type Pool struct {
	endpoints []*endpointState
	nextIndex atomic.Uint64
	cooldown  time.Duration
	closed    atomic.Bool

	// dial and now are replaced in tests.
	dial func(ctx context.Context, addr string) (*Client, error)
	now  func() time.Time
}

// NewPool creates a pool over addrs. Connections are made on first use.
func NewPool(addrs []string, opts ...grpc.DialOption) (*Pool, error) {
	p := &Pool{
		cooldown: DefaultCooldown,
		dial: func(ctx context.Context, addr string) (*Client, error) {
			return Dial(ctx, addr, opts...)
		},
		now: time.Now,
	}
	seen := make(map[string]bool)
	for _, addr := range addrs {
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		p.endpoints = append(p.endpoints, &endpointState{addr: addr})
	}
	if len(p.endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	return p, nil
}

// SetCooldown sets how long an unreachable runner is skipped.
func (p *Pool) SetCooldown(d time.Duration) {
	p.cooldown = d
}

// order returns the endpoints to try: healthy ones in round-robin order,
// then the ones cooling down as a last resort.
func (p *Pool) order() []*endpointState {
	n := len(p.endpoints)
	start := int(p.nextIndex.Add(1) % uint64(n))
	now := p.now()

	healthy := make([]*endpointState, 0, n)
	var down []*endpointState
	for i := 0; i < n; i++ {
		ep := p.endpoints[(start+i)%n]
		if ep.healthy(now) {
			healthy = append(healthy, ep)
		} else {
			down = append(down, ep)
		}
	}
	return append(healthy, down...)
}

// client returns the connection to ep, dialing it if there is none yet. A
// failed dial is not remembered, so the next attempt dials again.
func (p *Pool) client(ctx context.Context, ep *endpointState) (*Client, error) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	if ep.client != nil {
		return ep.client, nil
	}
	c, err := p.dial(ctx, ep.addr)
	if err != nil {
		return nil, err
	}
	ep.client = c
	return c, nil
}

// Execute runs req on the first runner that answers. Errors other than an
// unreachable runner are returned as is.
func (p *Pool) Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	var lastErr error
	for _, ep := range p.order() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c, err := p.client(ctx, ep)
		if errors.Is(err, ErrPoolClosed) {
			return nil, err
		}
		if err == nil {
			var resp *ExecuteResponse
			resp, err = c.Execute(ctx, req)
			if err == nil {
				ep.failCount.Store(0)
				ep.downUntil.Store(0)
				return resp, nil
			}
			if status.Code(err) != codes.Unavailable {
				return nil, err
			}
		}

		ep.failCount.Add(1)
		ep.downUntil.Store(p.now().Add(p.cooldown).UnixNano())
		lastErr = fmt.Errorf("%s: %w", ep.addr, err)
	}
	return nil, lastErr
}

// HealthyCount returns the number of runners not cooling down.
func (p *Pool) HealthyCount() int {
	now := p.now()
	count := 0
	for _, ep := range p.endpoints {
		if ep.healthy(now) {
			count++
		}
	}
	return count
}

// TotalCount returns the number of runners in the pool.
func (p *Pool) TotalCount() int {
	return len(p.endpoints)
}

// Close closes every open connection.
func (p *Pool) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	var errs []error
	for _, ep := range p.endpoints {
		ep.mu.Lock()
		if ep.client != nil {
			errs = append(errs, ep.client.Close())
			ep.client = nil
		}
		ep.mu.Unlock()
	}
	return errors.Join(errs...)
}
