package executor

import "context"

type limitedExecutor struct {
	next  Executor
	slots chan struct{}
}

// Limit wraps an Executor so that at most n commands run at once across all
// callers. Waiting for a slot honors ctx.
func Limit(next Executor, n int) Executor {
	if n <= 0 {
		n = 1
	}
	return &limitedExecutor{
		next:  next,
		slots: make(chan struct{}, n),
	}
}

func (l *limitedExecutor) acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *limitedExecutor) release() {
	<-l.slots
}

func (l *limitedExecutor) Execute(ctx context.Context, name string, args ...string) (Result, error) {
	if err := l.acquire(ctx); err != nil {
		return Result{ExitCode: -1}, err
	}
	defer l.release()
	return l.next.Execute(ctx, name, args...)
}

func (l *limitedExecutor) Stream(ctx context.Context, onLine func(line []byte), name string, args ...string) (Result, error) {
	if err := l.acquire(ctx); err != nil {
		return Result{ExitCode: -1}, err
	}
	defer l.release()
	return l.next.Stream(ctx, onLine, name, args...)
}
