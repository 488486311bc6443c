package keyed

import (
	"context"
	"sync"
	"time"

	"golang.org/x/exp/maps"
)

func DefaultMemorySettings() *MemorySettings {
	return &MemorySettings{
		PropagationDelay: 0,
	}
}

type MemorySettings struct {
	// artificial delay before subscribers observe a put.
	// zero delivers synchronously on the writer's goroutine.
	PropagationDelay time.Duration
}

// in-process store engine. used standalone in tests and as the local
// replica inside `Remote` and `Relay`.
type Memory struct {
	ctx      context.Context
	settings *MemorySettings

	mutex sync.Mutex
	docs  map[string]Doc
	subs  map[string]*CallbackList[func(Doc)]
}

func NewMemoryWithDefaults(ctx context.Context) *Memory {
	return NewMemory(ctx, DefaultMemorySettings())
}

func NewMemory(ctx context.Context, settings *MemorySettings) *Memory {
	return &Memory{
		ctx:      ctx,
		settings: settings,
		docs:     map[string]Doc{},
		subs:     map[string]*CallbackList[func(Doc)]{},
	}
}

func (self *Memory) Get(ctx context.Context, path string) (Doc, error) {
	if !ValidPath(path) {
		return nil, ErrBadPath
	}

	self.mutex.Lock()
	doc, ok := self.docs[path]
	var out Doc
	if ok {
		out = CopyDoc(doc)
	}
	self.mutex.Unlock()

	if !ok {
		return nil, ErrNotFound
	}
	return out, nil
}

func (self *Memory) Put(ctx context.Context, path string, doc Doc) error {
	if !ValidPath(path) {
		return ErrBadPath
	}

	self.mutex.Lock()
	merged := MergeDoc(self.docs[path], CopyDoc(doc))
	self.docs[path] = merged
	out := CopyDoc(merged)
	var callbacks []func(Doc)
	if subs, ok := self.subs[path]; ok {
		callbacks = subs.Get()
	}
	self.mutex.Unlock()

	self.deliver(callbacks, out)
	return nil
}

func (self *Memory) SetEdge(ctx context.Context, path string, field string, targetPath string) error {
	if !ValidPath(targetPath) {
		return ErrBadPath
	}
	return self.Put(ctx, path, Doc{
		field: Doc{
			Leaf(targetPath): true,
		},
	})
}

func (self *Memory) On(path string, callback func(Doc)) func() {
	self.mutex.Lock()
	subs, ok := self.subs[path]
	if !ok {
		subs = NewCallbackList[func(Doc)]()
		self.subs[path] = subs
	}
	callbackId := subs.Add(callback)
	doc, present := self.docs[path]
	var out Doc
	if present {
		out = CopyDoc(doc)
	}
	self.mutex.Unlock()

	// deliver the current value to the new subscriber
	if present {
		self.invoke(callback, out)
	}

	return func() {
		subs.Remove(callbackId)
	}
}

func (self *Memory) Once(path string, callback func(Doc)) {
	self.mutex.Lock()
	doc, present := self.docs[path]
	var out Doc
	if present {
		out = CopyDoc(doc)
	}
	self.mutex.Unlock()

	self.invoke(callback, out)
}

// number of live subscriptions on path
func (self *Memory) SubscriberCount(path string) int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if subs, ok := self.subs[path]; ok {
		return subs.Len()
	}
	return 0
}

// a copy of every stored document, for snapshots and inspection
func (self *Memory) Export() map[string]Doc {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	out := map[string]Doc{}
	for path, doc := range self.docs {
		out[path] = CopyDoc(doc)
	}
	return out
}

func (self *Memory) Import(docs map[string]Doc) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	for _, path := range maps.Keys(docs) {
		self.docs[path] = MergeDoc(self.docs[path], CopyDoc(docs[path]))
	}
}

func (self *Memory) Paths() []string {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	return maps.Keys(self.docs)
}

func (self *Memory) deliver(callbacks []func(Doc), doc Doc) {
	if len(callbacks) == 0 {
		return
	}
	if self.settings.PropagationDelay <= 0 {
		for _, callback := range callbacks {
			self.invoke(callback, CopyDoc(doc))
		}
		return
	}
	time.AfterFunc(self.settings.PropagationDelay, func() {
		select {
		case <-self.ctx.Done():
			return
		default:
		}
		for _, callback := range callbacks {
			self.invoke(callback, CopyDoc(doc))
		}
	})
}

func (self *Memory) invoke(callback func(Doc), doc Doc) {
	defer func() {
		recover()
	}()
	callback(doc)
}
