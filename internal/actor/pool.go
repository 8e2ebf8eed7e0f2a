package actor

import (
	"errors"
	"fmt"
	"sync"
)

// PoolOption configures SpawnPool.
type PoolOption[M any] func(*poolConfig[M])

type poolConfig[M any] struct {
	route func(M) string
}

// WithRouting gives every worker its own mailbox and routes each message by
// key, so messages with the same key are handled in order by one worker.
// Without it all workers compete for jobs from one shared queue.
func WithRouting[M any](key func(M) string) PoolOption[M] {
	return func(c *poolConfig[M]) { c.route = key }
}

// SpawnPool starts size workers built by factory behind one Ref registered
// under name. Jobs address the pool; workers have no names of their own.
//
// Each worker runs Init (if implemented) before any job is handled; jobs
// sent meanwhile wait in the queue. Any Init failure ends the whole pool. A worker whose handler
// fails or panics logs the failure and continues with the next job, so one
// bad message cannot take the pool down.
func SpawnPool[M any](s *System, name string, size int, factory func(worker int) Actor[M], opts ...PoolOption[M]) (*Ref[M], error) {
	if size < 1 {
		return nil, fmt.Errorf("actor: pool %s size must be at least 1", name)
	}

	var cfg poolConfig[M]
	for _, opt := range opts {
		opt(&cfg)
	}
	boxes := 1
	if cfg.route != nil {
		boxes = size
	}

	ref := newRef[M](s.ctx, name, boxes, cfg.route)
	if err := s.register(ref); err != nil {
		ref.cancel()
		return nil, err
	}

	workers := make([]Actor[M], size)
	for i := range workers {
		workers[i] = factory(i)
	}

	go func() {
		defer s.exit(ref)

		var initErrs []error
		for i, w := range workers {
			if err := ref.init(w); err != nil {
				initErrs = append(initErrs, fmt.Errorf("worker %d: %w", i, err))
			}
		}
		if len(initErrs) > 0 {
			ref.fail(fmt.Errorf("init: %w", errors.Join(initErrs...)))
			return
		}

		var wg sync.WaitGroup
		for i, w := range workers {
			box := ref.boxes[0]
			if boxes > 1 {
				box = ref.boxes[i]
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				runWorker(s, ref, i, w, box)
			}()
		}
		wg.Wait()
	}()

	return ref, nil
}

func runWorker[M any](s *System, ref *Ref[M], i int, w Actor[M], box *mailbox[M]) {
	for {
		msg, ok := box.pop(ref.ctx)
		if !ok {
			return
		}
		if err := ref.handle(w, msg); err != nil {
			var p *PanicError
			if errors.As(err, &p) {
				s.log.Error("pool worker panic recovered", "pool", ref.name, "worker", i, "panic", p.Value)
				continue
			}
			s.log.Warn("pool job failed", "pool", ref.name, "worker", i, "error", err)
		}
	}
}
