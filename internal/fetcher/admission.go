package fetcher

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Admission enforces the two concurrency caps as hard gates: a global
// cap on in-flight attempts across the whole run and a per-host cap on
// attempts sharing one remote host. Both semaphores are FIFO, so queued
// units are admitted in submission order.
//
// A slot is held for the duration of one attempt only. The fetcher
// releases it before any backoff sleep, so a unit waiting out a retry
// does not starve others of pool capacity.
type Admission struct {
	global  *semaphore.Weighted
	perHost int64

	mu    sync.Mutex
	hosts map[string]*semaphore.Weighted
}

// NewAdmission returns gates with the given caps. Non-positive caps
// disable the corresponding gate.
func NewAdmission(global, perHost int64) *Admission {
	a := &Admission{perHost: perHost, hosts: make(map[string]*semaphore.Weighted)}
	if global > 0 {
		a.global = semaphore.NewWeighted(global)
	}
	return a
}

func (a *Admission) hostGate(host string) *semaphore.Weighted {
	if a.perHost <= 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.hosts[host]
	if !ok {
		g = semaphore.NewWeighted(a.perHost)
		a.hosts[host] = g
	}
	return g
}

// Acquire blocks until both gates admit one attempt against host, or
// the context is done. A nil Admission admits everything.
func (a *Admission) Acquire(ctx context.Context, host string) error {
	if a == nil {
		return nil
	}
	if a.global != nil {
		if err := a.global.Acquire(ctx, 1); err != nil {
			return err
		}
	}
	if g := a.hostGate(host); g != nil {
		if err := g.Acquire(ctx, 1); err != nil {
			if a.global != nil {
				a.global.Release(1)
			}
			return err
		}
	}
	return nil
}

// Release returns the slot taken by Acquire.
func (a *Admission) Release(host string) {
	if a == nil {
		return
	}
	if g := a.hostGate(host); g != nil {
		g.Release(1)
	}
	if a.global != nil {
		a.global.Release(1)
	}
}
