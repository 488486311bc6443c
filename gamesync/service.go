package gamesync

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	"accordsim.com/gamesync/keyed"
)

func DefaultSyncSettings() *SyncSettings {
	return &SyncSettings{
		PutTimeout:       500 * time.Millisecond,
		VerifyDelay:      600 * time.Millisecond,
		VerifyDelayWide:  1 * time.Second,
		DebounceCooldown: 2 * time.Second,
	}
}

type SyncSettings struct {
	// how long a primary write may block the caller before the protocol
	// proceeds optimistically
	PutTimeout time.Duration
	// delay before re-reading an entity to verify an optimistic write
	VerifyDelay time.Duration
	// delay for fields that many downstream readers depend on
	VerifyDelayWide time.Duration
	// cool-down window coalescing high-churn aggregate updates
	DebounceCooldown time.Duration
}

// entry point for all sync-core operations. one service per client
// session.
//
// mutating operations return the created entity or nil, or a bool, and
// never panic across this boundary: validation failures and absorbed store
// failures are logged, not thrown. a success return means "accepted for
// processing", not "durably committed".
type Service struct {
	ctx    context.Context
	cancel context.CancelFunc

	store    keyed.Store
	cache    *Cache
	verify   *verifyQueue
	settings *SyncSettings

	// serializes optimistic read-modify-write sections. individual cache
	// writes are atomic on their own, but a mutation reads cached state,
	// computes the next value and writes it back, and two overlapping
	// mutations on the same entity would otherwise clobber each other.
	// cross-client races at the store remain last write wins.
	applyMutex sync.Mutex
}

func NewServiceWithDefaults(ctx context.Context, store keyed.Store) *Service {
	return NewService(ctx, store, DefaultSyncSettings())
}

func NewService(ctx context.Context, store keyed.Store, settings *SyncSettings) *Service {
	cancelCtx, cancel := context.WithCancel(ctx)

	service := &Service{
		ctx:      cancelCtx,
		cancel:   cancel,
		store:    store,
		cache:    NewCache(),
		settings: settings,
	}
	service.verify = newVerifyQueue(cancelCtx, store)
	return service
}

func (self *Service) Cache() *Cache {
	return self.cache
}

// drains pending verification work synchronously. tests use this instead of
// waiting out the verification delays.
func (self *Service) FlushVerify() {
	self.verify.Flush()
}

func (self *Service) Close() {
	self.verify.Close()
	self.cancel()
}

// every operation short-circuits when the store handle was never set
func (self *Service) ready() bool {
	if self.store == nil {
		glog.Errorf("[gs]store not initialized\n")
		return false
	}
	return true
}

// issues the primary write racing a timeout. if neither success nor error
// arrives in time the operation proceeds anyway: the write is in flight and
// the verification pass owns correctness from here.
func (self *Service) putWithTimeout(path string, doc keyed.Doc) {
	done := make(chan error, 1)
	go func() {
		done <- self.store.Put(self.ctx, path, doc)
	}()

	select {
	case err := <-done:
		if err != nil {
			glog.Errorf("[gs]put %s: %s\n", path, err)
		}
	case <-time.After(self.settings.PutTimeout):
		glog.V(1).Infof("[gs]put %s still in flight, proceeding\n", path)
	case <-self.ctx.Done():
	}
}

// converts a panic in an operation into the nil/false failure signal,
// preserving the never-throw contract at the boundary
func (self *Service) absorb(op string) {
	if r := recover(); r != nil {
		glog.Errorf("[gs]%s: recovered: %v\n", op, r)
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
