package service

import (
	"context"
	"sync"
)

// JobLocks is a registry of per-job mutexes. Entries are dropped once no
// caller holds or waits on them.
type JobLocks struct {
	mu    sync.Mutex
	locks map[string]*jobLock
}

type jobLock struct {
	ch   chan struct{}
	refs int
}

func NewJobLocks() *JobLocks {
	return &JobLocks{locks: make(map[string]*jobLock)}
}

// Lock blocks until the job's lock is held or ctx is done.
func (l *JobLocks) Lock(ctx context.Context, jobID string) (unlock func(), err error) {
	l.mu.Lock()
	jl, ok := l.locks[jobID]
	if !ok {
		jl = &jobLock{ch: make(chan struct{}, 1)}
		l.locks[jobID] = jl
	}
	jl.refs++
	l.mu.Unlock()

	select {
	case jl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(jobID, jl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-jl.ch
			l.release(jobID, jl)
		})
	}, nil
}

func (l *JobLocks) release(jobID string, jl *jobLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	jl.refs--
	if jl.refs == 0 {
		delete(l.locks, jobID)
	}
}

func (l *JobLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
