package credential

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// blockingAcquirer counts Acquire calls and holds every caller until
// released, so concurrent refreshes can be observed in flight.
type blockingAcquirer struct {
	calls   atomic.Int32
	release chan struct{}
	cred    *Credential
	err     error
}

func (a *blockingAcquirer) Acquire(ctx context.Context) (*Credential, error) {
	a.calls.Add(1)
	if a.release != nil {
		select {
		case <-a.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if a.err != nil {
		return nil, a.err
	}
	return a.cred, nil
}

func TestRefreshStoresCredential(t *testing.T) {
	store := NewStore("", 10)
	cred := New("0123456789abcdefghij", SourceExtracted)
	r := NewRefresher(store, &blockingAcquirer{cred: &cred}, time.Minute, nil)

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	got := store.Get()
	if got == nil || got.Token != cred.Token {
		t.Fatalf("store.Get() = %v, want stored credential", got)
	}
}

func TestRefreshPropagatesAuthenticationError(t *testing.T) {
	store := NewStore("", 10)
	authErr := &AuthenticationError{Reason: "login form not found"}
	r := NewRefresher(store, &blockingAcquirer{err: authErr}, time.Minute, nil)

	err := r.Refresh(context.Background())
	if !IsAuthenticationError(err) {
		t.Fatalf("Refresh() error = %v, want AuthenticationError", err)
	}
	if store.Get() != nil {
		t.Error("store.Get() != nil after failed refresh")
	}
}

func TestConcurrentRefreshesDeduplicate(t *testing.T) {
	store := NewStore("", 10)
	cred := New("0123456789abcdefghij", SourceExtracted)
	acq := &blockingAcquirer{cred: &cred, release: make(chan struct{})}
	r := NewRefresher(store, acq, time.Minute, nil)

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.Refresh(context.Background())
		}(i)
	}

	// Let all goroutines pile onto the in-flight acquisition, then release.
	time.Sleep(50 * time.Millisecond)
	close(acq.release)
	wg.Wait()

	if calls := acq.calls.Load(); calls != 1 {
		t.Errorf("Acquire called %d times for %d concurrent refreshes, want 1", calls, n)
	}
	for i, err := range errs {
		if err != nil {
			t.Errorf("refresh %d returned error: %v", i, err)
		}
	}
	if store.Get() == nil {
		t.Error("store.Get() = nil after de-duplicated refresh")
	}
}

func TestRefreshSurvivesCallerCancellation(t *testing.T) {
	store := NewStore("", 10)
	cred := New("0123456789abcdefghij", SourceExtracted)
	acq := &blockingAcquirer{cred: &cred, release: make(chan struct{})}
	r := NewRefresher(store, acq, time.Minute, nil)

	// First caller cancels while the acquisition is in flight.
	cancelled, cancel := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() { firstDone <- r.Refresh(cancelled) }()

	// Second caller waits for the same acquisition.
	secondDone := make(chan error, 1)
	go func() { secondDone <- r.Refresh(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	if err := <-firstDone; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller error = %v, want context.Canceled", err)
	}

	// The shared acquisition keeps running and the second caller succeeds.
	close(acq.release)
	if err := <-secondDone; err != nil {
		t.Fatalf("surviving caller error = %v, want nil", err)
	}
	if store.Get() == nil {
		t.Error("store.Get() = nil, acquisition should have completed")
	}
}

func TestStaticAcquirer(t *testing.T) {
	acq := NewStaticAcquirer("preconfigured-session-token")
	cred, err := acq.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if cred.Token != "preconfigured-session-token" {
		t.Errorf("Token = %q, want preconfigured token", cred.Token)
	}
	if cred.Source != SourcePreconfigured {
		t.Errorf("Source = %q, want %q", cred.Source, SourcePreconfigured)
	}
}

func TestStaticAcquirerEmptyToken(t *testing.T) {
	acq := NewStaticAcquirer("")
	if _, err := acq.Acquire(context.Background()); !IsAuthenticationError(err) {
		t.Fatalf("Acquire() error = %v, want AuthenticationError", err)
	}
}
