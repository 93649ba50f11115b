package calling

import (
	"context"
	"sync"
	"time"

	"chatflow/signaling/utils"
)

// Poller runs the two fixed-interval schedules a connected client needs: a
// heartbeat so the server keeps us online, and the mailbox drain that feeds
// the call manager. It is the only place suspension and retry policy live:
// transport errors are swallowed here and retried on the next tick, never
// surfaced as call failures.
type Poller struct {
	client  *Client
	manager *Manager
	logger  *utils.Logger

	heartbeatEvery time.Duration
	drainEvery     time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPoller creates a poller with the given periods. The signaling design
// assumes heartbeat 30s against a 60s online window, and a 2s drain.
func NewPoller(client *Client, manager *Manager, heartbeatEvery, drainEvery time.Duration, logger *utils.Logger) *Poller {
	return &Poller{
		client:         client,
		manager:        manager,
		logger:         logger,
		heartbeatEvery: heartbeatEvery,
		drainEvery:     drainEvery,
	}
}

// Start launches both schedules, derived from ctx so they die with the
// client's connected lifetime. The first heartbeat fires immediately.
// Calling Start on a running poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	p.wg.Add(2)
	go p.heartbeatLoop(ctx)
	go p.drainLoop(ctx)
}

// Stop deterministically ends both schedules and waits for them to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()
}

func (p *Poller) heartbeatLoop(ctx context.Context) {
	defer p.wg.Done()

	p.beat(ctx)

	ticker := time.NewTicker(p.heartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.beat(ctx)
		}
	}
}

func (p *Poller) beat(ctx context.Context) {
	if err := p.client.Heartbeat(ctx); err != nil {
		p.logger.Debug("heartbeat failed, will retry", "error", err)
	}
}

func (p *Poller) drainLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.drainEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drainOnce(ctx)
		}
	}
}

// drainOnce fetches pending events and feeds them to the manager in arrival
// order, each handled to completion before the next.
func (p *Poller) drainOnce(ctx context.Context) {
	events, err := p.client.Drain(ctx)
	if err != nil {
		p.logger.Debug("poll failed, will retry", "error", err)
		return
	}

	for _, event := range events {
		p.manager.Handle(ctx, event)
	}
}
