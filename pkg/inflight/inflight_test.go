package inflight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pagestore/pkg/models"
)

func TestConcurrentCallersShareOneCall(t *testing.T) {
	c := New(time.Minute)
	var calls int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]models.Record, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := c.Do(context.Background(), "rec:main:k", true, func() (models.Record, error) {
				atomic.AddInt32(&calls, 1)
				<-release
				return models.Record{Number: 42, Key: "k"}, nil
			})
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
			}
			results[i] = rec
		}(i)
	}

	// let the leader register and everyone else attach
	deadline := time.Now().Add(2 * time.Second)
	for !c.Pending("rec:main:k") {
		if time.Now().After(deadline) {
			t.Fatal("leader never registered")
		}
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("fn ran %d times, want 1", n)
	}
	for i, rec := range results {
		if rec.Number != 42 {
			t.Fatalf("caller %d got number %d, want 42", i, rec.Number)
		}
	}
}

func TestGraceWindowServesCompletedResult(t *testing.T) {
	c := New(50 * time.Millisecond)
	var calls int32
	fn := func() (models.Record, error) {
		atomic.AddInt32(&calls, 1)
		return models.Record{Number: 7}, nil
	}

	if _, err := c.Do(context.Background(), "k", true, fn); err != nil {
		t.Fatalf("first do: %v", err)
	}
	if !c.Pending("k") {
		t.Fatal("completed call should linger during the grace window")
	}

	// a second caller inside the grace window attaches to the finished call
	rec, err := c.Do(context.Background(), "k", true, fn)
	if err != nil {
		t.Fatalf("second do: %v", err)
	}
	if rec.Number != 7 {
		t.Fatalf("second do number = %d, want 7", rec.Number)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("fn ran %d times inside grace, want 1", n)
	}

	// past the grace deadline the key is released
	deadline := time.Now().Add(2 * time.Second)
	for c.Pending("k") {
		if time.Now().After(deadline) {
			t.Fatal("call never expired after grace window")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := c.Do(context.Background(), "k", true, fn); err != nil {
		t.Fatalf("third do: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("fn ran %d times after expiry, want 2", n)
	}
}

func TestFailedReadDoesNotBindCreatingCaller(t *testing.T) {
	c := New(time.Minute)
	notFound := errors.New("no such record")

	// a read-only caller misses and its failure lingers in the grace window
	if _, err := c.Do(context.Background(), "k", false, func() (models.Record, error) {
		return models.Record{}, notFound
	}); !errors.Is(err, notFound) {
		t.Fatalf("read err = %v, want notFound", err)
	}
	if !c.Pending("k") {
		t.Fatal("failed read should linger during the grace window")
	}

	// a caller that can create must run its own call instead of inheriting
	// the miss
	var created int32
	rec, err := c.Do(context.Background(), "k", true, func() (models.Record, error) {
		atomic.AddInt32(&created, 1)
		return models.Record{Number: 11}, nil
	})
	if err != nil {
		t.Fatalf("create do: %v", err)
	}
	if rec.Number != 11 || atomic.LoadInt32(&created) != 1 {
		t.Fatalf("creating caller got number %d with %d runs, want 11 with 1", rec.Number, created)
	}

	// the successful creation now binds everyone, factory or not
	follow, err := c.Do(context.Background(), "k", false, func() (models.Record, error) {
		t.Error("read attached to a successful call should not run")
		return models.Record{}, nil
	})
	if err != nil || follow.Number != 11 {
		t.Fatalf("follow-up = (%d, %v), want (11, nil)", follow.Number, err)
	}
}

func TestFailedCreateStillBindsReaders(t *testing.T) {
	c := New(time.Minute)
	boom := errors.New("upstream down")
	if _, err := c.Do(context.Background(), "k", true, func() (models.Record, error) {
		return models.Record{}, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("leader err = %v, want boom", err)
	}

	// a factory-bearing leader already had its chance; its failure is shared
	if _, err := c.Do(context.Background(), "k", true, func() (models.Record, error) {
		t.Error("second create should attach, not run")
		return models.Record{}, nil
	}); !errors.Is(err, boom) {
		t.Fatalf("attached err = %v, want boom", err)
	}
}

func TestForgetDropsCompletedCall(t *testing.T) {
	c := New(time.Minute)
	var calls int32
	fn := func() (models.Record, error) {
		atomic.AddInt32(&calls, 1)
		return models.Record{}, nil
	}

	if _, err := c.Do(context.Background(), "k", true, fn); err != nil {
		t.Fatalf("do: %v", err)
	}
	c.Forget("k")
	if c.Pending("k") {
		t.Fatal("forgotten call still pending")
	}
	if _, err := c.Do(context.Background(), "k", true, fn); err != nil {
		t.Fatalf("do after forget: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("fn ran %d times, want 2", n)
	}
}

func TestForgetLeavesInFlightCallAlone(t *testing.T) {
	c := New(time.Minute)
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Do(context.Background(), "k", true, func() (models.Record, error) {
			<-release
			return models.Record{}, nil
		})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !c.Pending("k") {
		if time.Now().After(deadline) {
			t.Fatal("leader never registered")
		}
		time.Sleep(time.Millisecond)
	}
	c.Forget("k")
	if !c.Pending("k") {
		t.Fatal("forget removed a call that was still running")
	}
	close(release)
	<-done
}

func TestAbandonedWaiterDoesNotCancelLeader(t *testing.T) {
	c := New(time.Minute)
	release := make(chan struct{})
	leaderDone := make(chan models.Record, 1)
	go func() {
		rec, _ := c.Do(context.Background(), "k", true, func() (models.Record, error) {
			<-release
			return models.Record{Number: 9}, nil
		})
		leaderDone <- rec
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !c.Pending("k") {
		if time.Now().After(deadline) {
			t.Fatal("leader never registered")
		}
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Do(ctx, "k", true, nil); err == nil {
		t.Fatal("canceled waiter should return an error")
	}

	close(release)
	select {
	case rec := <-leaderDone:
		if rec.Number != 9 {
			t.Fatalf("leader result = %d, want 9", rec.Number)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("leader never finished")
	}
}
