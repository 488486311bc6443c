package gamesync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"

	"accordsim.com/gamesync/keyed"
)

// delayed verification of optimistic writes. each job re-reads the entity
// after its delay, compares the fields the write intended to change, and
// re-issues the write once on mismatch. re-applying the same payload is a
// pure overwrite of the same shape, so a duplicate retry is safe.
//
// jobs live in an explicit queue rather than fire-and-forget timers so
// pending work can be flushed deterministically.

type verifyJob struct {
	path string
	// fields the optimistic write intended to change, with their expected
	// final values
	expect keyed.Doc
	// the delta to re-issue on mismatch
	retry   keyed.Doc
	runTime time.Time
}

type verifyQueue struct {
	ctx    context.Context
	cancel context.CancelFunc
	store  keyed.Store

	mutex sync.Mutex
	jobs  []*verifyJob
	wake  chan struct{}
}

func newVerifyQueue(ctx context.Context, store keyed.Store) *verifyQueue {
	cancelCtx, cancel := context.WithCancel(ctx)

	queue := &verifyQueue{
		ctx:    cancelCtx,
		cancel: cancel,
		store:  store,
		wake:   make(chan struct{}, 1),
	}
	go queue.run()
	return queue
}

func (self *verifyQueue) schedule(path string, expect keyed.Doc, retry keyed.Doc, delay time.Duration) {
	job := &verifyJob{
		path:    path,
		expect:  expect,
		retry:   retry,
		runTime: time.Now().Add(delay),
	}

	self.mutex.Lock()
	self.jobs = append(self.jobs, job)
	self.mutex.Unlock()

	select {
	case self.wake <- struct{}{}:
	default:
	}
}

// runs every pending job now, due or not, on the caller's goroutine
func (self *verifyQueue) Flush() {
	for {
		self.mutex.Lock()
		jobs := self.jobs
		self.jobs = nil
		self.mutex.Unlock()

		if len(jobs) == 0 {
			return
		}
		for _, job := range jobs {
			self.execute(job)
		}
	}
}

func (self *verifyQueue) Close() {
	self.cancel()
}

func (self *verifyQueue) run() {
	for {
		job, wait := self.nextDue()
		if job != nil {
			self.execute(job)
			continue
		}

		if wait <= 0 {
			// empty queue. sleep until new work arrives.
			select {
			case <-self.ctx.Done():
				return
			case <-self.wake:
			}
			continue
		}
		select {
		case <-self.ctx.Done():
			return
		case <-self.wake:
		case <-time.After(wait):
		}
	}
}

// pops a due job, or returns the wait until the earliest job
func (self *verifyQueue) nextDue() (*verifyJob, time.Duration) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if len(self.jobs) == 0 {
		return nil, 0
	}

	earliest := 0
	for i, job := range self.jobs {
		if job.runTime.Before(self.jobs[earliest].runTime) {
			earliest = i
		}
	}
	job := self.jobs[earliest]
	wait := time.Until(job.runTime)
	if wait > 0 {
		return nil, wait
	}
	self.jobs = append(self.jobs[:earliest], self.jobs[earliest+1:]...)
	return job, 0
}

func (self *verifyQueue) execute(job *verifyJob) {
	doc, err := self.store.Get(self.ctx, job.path)
	if errors.Is(err, keyed.ErrNotFound) {
		// the entity vanished after the write was scheduled. nothing to
		// correct.
		glog.V(2).Infof("[vq]%s gone, skipping\n", job.path)
		return
	}
	if err != nil {
		glog.Errorf("[vq]read %s: %s\n", job.path, err)
		return
	}

	mismatched := []string{}
	for field, expected := range job.expect {
		if !jsonEqual(doc[field], expected) {
			mismatched = append(mismatched, field)
		}
	}
	if len(mismatched) == 0 {
		glog.V(2).Infof("[vq]%s verified\n", job.path)
		return
	}

	// single corrective retry. if this write also fails to land, the
	// mismatch is only visible here in the log: the original call already
	// returned.
	glog.V(1).Infof("[vq]%s mismatch on %v, re-issuing\n", job.path, mismatched)
	if err := self.store.Put(self.ctx, job.path, job.retry); err != nil {
		glog.Errorf("[vq]retry %s: %s\n", job.path, err)
	}
}
