package worker

import (
	"context"
	"errors"
	"io"
	"sync"
)

// Group runs several pools that share one broker connection.
type Group struct {
	pools  []*Pool
	broker io.Closer

	once sync.Once
	err  error
}

// NewGroup builds a group. broker may be nil.
func NewGroup(broker io.Closer, pools ...*Pool) *Group {
	return &Group{pools: pools, broker: broker}
}

// Run starts every pool and blocks until all of them return.
func (g *Group) Run(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, p := range g.pools {
		wg.Add(1)
		go func(p *Pool) {
			defer wg.Done()
			if err := p.Run(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// ShutdownAll stops every pool concurrently, then closes the broker exactly
// once. Later calls return the first call's result.
func (g *Group) ShutdownAll(ctx context.Context) error {
	g.once.Do(func() {
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			errs []error
		)
		for _, p := range g.pools {
			wg.Add(1)
			go func(p *Pool) {
				defer wg.Done()
				if err := p.Shutdown(ctx); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}(p)
		}
		wg.Wait()
		if g.broker != nil {
			if err := g.broker.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		g.err = errors.Join(errs...)
	})
	return g.err
}
