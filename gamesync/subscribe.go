package gamesync

import (
	"sync"
	"time"

	"github.com/golang/glog"

	"accordsim.com/gamesync/keyed"
)

// subscription multiplexer. one logical live view (all agreements in a
// game, the card assigned to an actor, the whole game graph) fans out to a
// parent subscription plus one nested subscription per member. members
// appearing after the initial subscribe get nested subscriptions opened
// dynamically; every nested update recomputes the full aggregate from the
// cache and delivers the complete collection, never a diff.

// tracks every handle a logical subscription opened so unsubscribe can be
// exhaustive
type subscription struct {
	mutex       sync.Mutex
	closed      bool
	parentUnsub func()
	childUnsubs map[string]func()
}

func newSubscription() *subscription {
	return &subscription{
		childUnsubs: map[string]func(){},
	}
}

func (self *subscription) setParent(unsub func()) {
	self.mutex.Lock()
	if self.closed {
		self.mutex.Unlock()
		unsub()
		return
	}
	self.parentUnsub = unsub
	self.mutex.Unlock()
}

func (self *subscription) hasChild(childId string) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	_, ok := self.childUnsubs[childId]
	return ok
}

func (self *subscription) addChild(childId string, unsub func()) {
	self.mutex.Lock()
	if self.closed {
		self.mutex.Unlock()
		unsub()
		return
	}
	if _, ok := self.childUnsubs[childId]; ok {
		self.mutex.Unlock()
		unsub()
		return
	}
	self.childUnsubs[childId] = unsub
	self.mutex.Unlock()
}

// closes the parent and every nested subscription opened so far
func (self *subscription) unsubscribe() {
	self.mutex.Lock()
	if self.closed {
		self.mutex.Unlock()
		return
	}
	self.closed = true
	parentUnsub := self.parentUnsub
	childUnsubs := self.childUnsubs
	self.childUnsubs = map[string]func(){}
	self.mutex.Unlock()

	if parentUnsub != nil {
		parentUnsub()
	}
	for _, unsub := range childUnsubs {
		unsub()
	}
}

// coalesces updates that arrive within a cool-down window of the last
// applied update into a single delayed refresh, so high-churn aggregates
// do not feed re-render storms back into more writes
type debouncer struct {
	cooldown time.Duration
	fn       func()

	mutex    sync.Mutex
	lastTime time.Time
	pending  *time.Timer
	stopped  bool
}

func newDebouncer(cooldown time.Duration, fn func()) *debouncer {
	return &debouncer{
		cooldown: cooldown,
		fn:       fn,
	}
}

func (self *debouncer) trigger() {
	self.mutex.Lock()
	if self.stopped {
		self.mutex.Unlock()
		return
	}
	now := time.Now()
	if self.cooldown <= 0 || self.cooldown <= now.Sub(self.lastTime) {
		self.lastTime = now
		self.mutex.Unlock()
		self.fn()
		return
	}
	if self.pending == nil {
		wait := self.cooldown - now.Sub(self.lastTime)
		self.pending = time.AfterFunc(wait, func() {
			self.mutex.Lock()
			if self.stopped {
				self.mutex.Unlock()
				return
			}
			self.pending = nil
			self.lastTime = time.Now()
			self.mutex.Unlock()
			self.fn()
		})
	}
	self.mutex.Unlock()
}

func (self *debouncer) stop() {
	self.mutex.Lock()
	self.stopped = true
	if self.pending != nil {
		self.pending.Stop()
		self.pending = nil
	}
	self.mutex.Unlock()
}

// live view of all agreements currently in the game. the callback receives
// the complete current collection on every change. returns the unsubscribe
// handle.
func (self *Service) SubscribeAgreements(gameId string, callback func([]*Agreement)) func() {
	if !self.ready() {
		return func() {}
	}

	sub := newSubscription()

	publish := func() {
		self.invokeCallback(func() {
			callback(self.AgreementsForGame(gameId))
		})
	}

	watchAgreement := func(agreementId string) {
		if sub.hasChild(agreementId) {
			return
		}
		unsub := self.store.On(agreementPath(agreementId), func(doc keyed.Doc) {
			if doc == nil {
				return
			}
			agreement, err := fromDoc[Agreement](doc)
			if err != nil {
				glog.Errorf("[mux]decode agreement %s: %s\n", agreementId, err)
				return
			}
			agreement.Id = agreementId
			self.cache.PutAgreement(agreementId, agreement)
			publish()
		})
		sub.addChild(agreementId, unsub)
	}

	parentUnsub := self.store.On(gamePath(gameId), func(doc keyed.Doc) {
		if doc == nil {
			return
		}
		game, err := fromDoc[Game](doc)
		if err != nil {
			glog.Errorf("[mux]decode game %s: %s\n", gameId, err)
			return
		}
		game.Id = gameId
		self.cache.PutGame(gameId, game)
		for agreementId := range game.AgreementsRef {
			watchAgreement(agreementId)
		}
		publish()
	})
	sub.setParent(parentUnsub)

	return sub.unsubscribe
}

// live view of the card currently assigned to the actor, enriched with
// value/capability names. fires with nil while no card is assigned.
func (self *Service) SubscribeActorCard(actorId string, callback func(*CardView)) func() {
	if !self.ready() {
		return func() {}
	}

	sub := newSubscription()

	watchCard := func(cardId string) {
		if sub.hasChild(cardId) {
			return
		}
		unsub := self.store.On(cardPath(cardId), func(doc keyed.Doc) {
			if doc == nil {
				return
			}
			card, err := fromDoc[Card](doc)
			if err != nil {
				return
			}
			card.Id = cardId
			self.cache.PutCard(cardId, card)
			self.invokeCallback(func() {
				callback(self.CardView(cardId))
			})
		})
		sub.addChild(cardId, unsub)
	}

	parentUnsub := self.store.On(actorPath(actorId), func(doc keyed.Doc) {
		if doc == nil {
			return
		}
		actor, err := fromDoc[Actor](doc)
		if err != nil {
			return
		}
		actor.Id = actorId
		self.cache.PutActor(actorId, actor)
		if actor.CardRef == "" {
			self.invokeCallback(func() {
				callback(nil)
			})
			return
		}
		watchCard(actor.CardRef)
	})
	sub.setParent(parentUnsub)

	return sub.unsubscribe
}

// live view of the whole game graph, for driving the force-graph render.
// updates are debounced by the cool-down window because a full re-render
// writes node positions back, which would otherwise echo into more
// updates.
func (self *Service) SubscribeGame(gameId string, callback func(*GameView)) func() {
	if !self.ready() {
		return func() {}
	}

	sub := newSubscription()

	publish := newDebouncer(self.settings.DebounceCooldown, func() {
		game := self.Game(gameId)
		if game == nil {
			return
		}
		view := &GameView{
			Game:       game,
			Actors:     self.cache.ActorsForGame(gameId),
			Agreements: self.cache.AgreementsForGame(gameId),
			Positions:  self.cache.PositionsForGame(gameId),
		}
		self.invokeCallback(func() {
			callback(view)
		})
	})

	watchActor := func(actorId string) {
		childId := "actor:" + actorId
		if sub.hasChild(childId) {
			return
		}
		unsub := self.store.On(actorPath(actorId), func(doc keyed.Doc) {
			if doc == nil {
				return
			}
			if actor, err := fromDoc[Actor](doc); err == nil {
				actor.Id = actorId
				self.cache.PutActor(actorId, actor)
				publish.trigger()
			}
		})
		sub.addChild(childId, unsub)
	}
	watchAgreement := func(agreementId string) {
		childId := "agreement:" + agreementId
		if sub.hasChild(childId) {
			return
		}
		unsub := self.store.On(agreementPath(agreementId), func(doc keyed.Doc) {
			if doc == nil {
				return
			}
			if agreement, err := fromDoc[Agreement](doc); err == nil {
				agreement.Id = agreementId
				self.cache.PutAgreement(agreementId, agreement)
				publish.trigger()
			}
		})
		sub.addChild(childId, unsub)
	}
	watchPosition := func(nodeId string) {
		childId := "position:" + nodeId
		if sub.hasChild(childId) {
			return
		}
		unsub := self.store.On(positionPath(gameId, nodeId), func(doc keyed.Doc) {
			if doc == nil {
				return
			}
			if position, err := fromDoc[NodePosition](doc); err == nil {
				self.cache.PutPosition(gameId, nodeId, position)
				publish.trigger()
			}
		})
		sub.addChild(childId, unsub)
	}

	parentUnsub := self.store.On(gamePath(gameId), func(doc keyed.Doc) {
		if doc == nil {
			return
		}
		game, err := fromDoc[Game](doc)
		if err != nil {
			glog.Errorf("[mux]decode game %s: %s\n", gameId, err)
			return
		}
		game.Id = gameId
		self.cache.PutGame(gameId, game)
		for actorId := range game.ActorsRef {
			watchActor(actorId)
			watchPosition(actorId)
		}
		for agreementId := range game.AgreementsRef {
			watchAgreement(agreementId)
			watchPosition(agreementId)
		}
		publish.trigger()
	})
	sub.setParent(parentUnsub)

	unsubscribe := sub.unsubscribe
	return func() {
		publish.stop()
		unsubscribe()
	}
}

// live view of a fixed set of node positions
func (self *Service) SubscribePositions(gameId string, nodeIds []string, callback func([]*NodePosition)) func() {
	if !self.ready() {
		return func() {}
	}

	sub := newSubscription()

	publish := func() {
		self.invokeCallback(func() {
			callback(self.cache.PositionsForGame(gameId))
		})
	}

	for _, nodeId := range nodeIds {
		nodeId := nodeId
		unsub := self.store.On(positionPath(gameId, nodeId), func(doc keyed.Doc) {
			if doc == nil {
				return
			}
			if position, err := fromDoc[NodePosition](doc); err == nil {
				self.cache.PutPosition(gameId, nodeId, position)
				publish()
			}
		})
		sub.addChild(nodeId, unsub)
	}

	return sub.unsubscribe
}

// consumer callbacks run outside the core's locks and must not take the
// core down with them
func (self *Service) invokeCallback(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("[mux]callback recovered: %v\n", r)
		}
	}()
	fn()
}
