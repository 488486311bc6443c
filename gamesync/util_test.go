package gamesync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"accordsim.com/gamesync/keyed"
)

// fast settings so tests flush verification work instead of waiting out
// wall-clock delays
func testSettings() *SyncSettings {
	return &SyncSettings{
		PutTimeout:       100 * time.Millisecond,
		VerifyDelay:      0,
		VerifyDelayWide:  0,
		DebounceCooldown: 0,
	}
}

func newTestService(ctx context.Context) (*Service, *keyed.Memory) {
	memory := keyed.NewMemoryWithDefaults(ctx)
	service := NewService(ctx, memory, testSettings())
	return service, memory
}

// counts writes so tests can assert that failed validation issues none
type countingStore struct {
	keyed.Store

	puts  atomic.Int64
	edges atomic.Int64
}

func (self *countingStore) Put(ctx context.Context, path string, doc keyed.Doc) error {
	self.puts.Add(1)
	return self.Store.Put(ctx, path, doc)
}

func (self *countingStore) SetEdge(ctx context.Context, path string, field string, targetPath string) error {
	self.edges.Add(1)
	return self.Store.SetEdge(ctx, path, field, targetPath)
}

func (self *countingStore) writes() int64 {
	return self.puts.Load() + self.edges.Load()
}

// swallows the next n puts while still reporting success, simulating
// writes lost in propagation
type flakyStore struct {
	keyed.Store

	mutex    sync.Mutex
	dropNext int
}

func (self *flakyStore) Put(ctx context.Context, path string, doc keyed.Doc) error {
	self.mutex.Lock()
	drop := 0 < self.dropNext
	if drop {
		self.dropNext -= 1
	}
	self.mutex.Unlock()

	if drop {
		return nil
	}
	return self.Store.Put(ctx, path, doc)
}

func (self *flakyStore) dropNextPuts(n int) {
	self.mutex.Lock()
	self.dropNext = n
	self.mutex.Unlock()
}
