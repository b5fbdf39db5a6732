package db

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/simatei/kpi/internal/oxidb"
)

const (
	dialTimeout       = 5 * time.Second
	keepaliveInterval = 10 * time.Second
)

// Pool is a round-robin connection pool for OxiDB with auto-reconnect.
type Pool struct {
	addr    string
	logger  *log.Logger
	clients []*oxidb.Client
	mu      []sync.RWMutex
	idx     uint64
	stop    chan struct{}
	once    sync.Once
}

// NewPool creates a pool of size OxiDB connections to addr.
func NewPool(ctx context.Context, addr string, size int, logger *log.Logger) (*Pool, error) {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		addr:    addr,
		logger:  logger.WithPrefix("oxidb-pool"),
		clients: make([]*oxidb.Client, size),
		mu:      make([]sync.RWMutex, size),
		stop:    make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		c, err := oxidb.Connect(ctx, addr, dialTimeout)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("pool: connect client %d: %w", i, err)
		}
		p.clients[i] = c
	}
	// Idle connections are dropped by the server without periodic pings.
	go p.keepalive()
	return p, nil
}

// Get returns the next client in round-robin order.
func (p *Pool) Get() *oxidb.Client {
	n := atomic.AddUint64(&p.idx, 1)
	i := int(n % uint64(len(p.clients)))
	p.mu[i].RLock()
	defer p.mu[i].RUnlock()
	return p.clients[i]
}

// Ping checks one pooled connection.
func (p *Pool) Ping(ctx context.Context) error {
	_, err := p.Get().Ping(ctx)
	return err
}

func (p *Pool) reconnect(i int) {
	c, err := oxidb.Connect(context.Background(), p.addr, dialTimeout)
	if err != nil {
		p.logger.Error("reconnect failed", "client", i, "err", err)
		return
	}
	p.mu[i].Lock()
	old := p.clients[i]
	p.clients[i] = c
	p.mu[i].Unlock()
	if old != nil {
		old.Close()
	}
}

func (p *Pool) keepalive() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			for i := range p.clients {
				ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
				p.mu[i].RLock()
				c := p.clients[i]
				p.mu[i].RUnlock()
				if _, err := c.Ping(ctx); err != nil {
					p.logger.Warn("ping failed, reconnecting", "client", i, "err", err)
					p.reconnect(i)
				}
				cancel()
			}
		}
	}
}

// Close closes all connections.
func (p *Pool) Close() {
	p.once.Do(func() {
		close(p.stop)
		for _, c := range p.clients {
			if c != nil {
				c.Close()
			}
		}
	})
}
