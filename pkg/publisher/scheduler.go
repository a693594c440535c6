package publisher

import (
	"context"
	"log"
	"sync"
	"time"
)

const DefaultInterval = 60 * time.Second

// Run ticks immediately and then every interval until ctx is done.
// A firing that arrives while the previous tick is still running is dropped.
func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	var wg sync.WaitGroup
	defer wg.Wait()

	p.tryTick(ctx, &wg)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tryTick(ctx, &wg)
		}
	}
}

func (p *Publisher) tryTick(ctx context.Context, wg *sync.WaitGroup) bool {
	if !p.running.CompareAndSwap(false, true) {
		if p.cfg.Debug {
			log.Println("Previous tick still running, skipping")
		}
		return false
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer p.running.Store(false)
		p.Tick(ctx)
	}()
	return true
}
