package keyed

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

// store backed by a relay. reads and subscriptions are served from a local
// replica; writes apply to the replica immediately and are forwarded to the
// relay best effort. the replica converges with the relay on (re)connect
// via the full state sync.

const remoteSendQueueSize = 256

func DefaultRemoteSettings() *RemoteSettings {
	return &RemoteSettings{
		DialTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		MinReconnect: 500 * time.Millisecond,
		MaxReconnect: 8 * time.Second,
	}
}

type RemoteSettings struct {
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	MinReconnect time.Duration
	MaxReconnect time.Duration
}

type Remote struct {
	ctx    context.Context
	cancel context.CancelFunc

	url      string
	signer   *Signer
	settings *RemoteSettings

	memory *Memory

	sendQueue chan *envelope

	connMonitor *Monitor
	mutex       sync.Mutex
	conn        *websocket.Conn
}

func NewRemoteWithDefaults(ctx context.Context, url string, signer *Signer) *Remote {
	return NewRemote(ctx, url, signer, DefaultRemoteSettings())
}

func NewRemote(ctx context.Context, url string, signer *Signer, settings *RemoteSettings) *Remote {
	cancelCtx, cancel := context.WithCancel(ctx)

	remote := &Remote{
		ctx:         cancelCtx,
		cancel:      cancel,
		url:         url,
		signer:      signer,
		settings:    settings,
		memory:      NewMemoryWithDefaults(cancelCtx),
		sendQueue:   make(chan *envelope, remoteSendQueueSize),
		connMonitor: NewMonitor(),
	}
	go remote.connectLoop()
	go remote.sendLoop()
	return remote
}

func (self *Remote) Get(ctx context.Context, path string) (Doc, error) {
	return self.memory.Get(ctx, path)
}

func (self *Remote) Put(ctx context.Context, path string, doc Doc) error {
	if err := self.memory.Put(ctx, path, doc); err != nil {
		return err
	}
	self.forward(path, CopyDoc(doc))
	return nil
}

func (self *Remote) SetEdge(ctx context.Context, path string, field string, targetPath string) error {
	if !ValidPath(targetPath) {
		return ErrBadPath
	}
	return self.Put(ctx, path, Doc{
		field: Doc{
			Leaf(targetPath): true,
		},
	})
}

func (self *Remote) On(path string, callback func(Doc)) func() {
	return self.memory.On(path, callback)
}

func (self *Remote) Once(path string, callback func(Doc)) {
	self.memory.Once(path, callback)
}

func (self *Remote) Close() {
	self.cancel()

	self.mutex.Lock()
	if self.conn != nil {
		self.conn.Close()
		self.conn = nil
	}
	self.mutex.Unlock()
}

func (self *Remote) forward(path string, doc Doc) {
	message := &envelope{
		Type:     envelopeTypePut,
		ChangeId: NewId().String(),
		Path:     path,
		Doc:      doc,
	}
	if self.signer != nil {
		token, err := self.signer.Sign(path, doc)
		if err != nil {
			glog.Errorf("[remote]sign %s: %s\n", path, err)
			return
		}
		message.Token = token
	}
	select {
	case self.sendQueue <- message:
	default:
		// the local replica already has the write. the full resync on the
		// next reconnect covers whatever the queue dropped.
		glog.V(1).Infof("[remote]send queue full, dropped %s\n", path)
	}
}

func (self *Remote) connectLoop() {
	reconnectTimeout := self.settings.MinReconnect
	for {
		select {
		case <-self.ctx.Done():
			return
		default:
		}

		dialer := &websocket.Dialer{
			HandshakeTimeout: self.settings.DialTimeout,
		}
		conn, _, err := dialer.DialContext(self.ctx, self.url, nil)
		if err != nil {
			glog.V(1).Infof("[remote]dial %s: %s\n", self.url, err)
			select {
			case <-self.ctx.Done():
				return
			case <-time.After(reconnectTimeout):
			}
			reconnectTimeout = min(2*reconnectTimeout, self.settings.MaxReconnect)
			continue
		}
		reconnectTimeout = self.settings.MinReconnect

		self.mutex.Lock()
		self.conn = conn
		self.mutex.Unlock()
		self.connMonitor.NotifyAll()

		self.readLoop(conn)

		self.mutex.Lock()
		if self.conn == conn {
			self.conn = nil
		}
		self.mutex.Unlock()
		conn.Close()
	}
}

func (self *Remote) readLoop(conn *websocket.Conn) {
	for {
		message := &envelope{}
		if err := conn.ReadJSON(message); err != nil {
			glog.V(2).Infof("[remote]read: %s\n", err)
			return
		}
		switch message.Type {
		case envelopeTypeSync:
			for path, doc := range message.Docs {
				self.memory.Put(self.ctx, path, doc)
			}
		case envelopeTypePut:
			if !ValidPath(message.Path) {
				continue
			}
			self.memory.Put(self.ctx, message.Path, message.Doc)
		}
	}
}

func (self *Remote) sendLoop() {
	for {
		select {
		case <-self.ctx.Done():
			return
		case message := <-self.sendQueue:
			var lastFailed *websocket.Conn
			for {
				conn := self.currentConn()
				if conn == nil || conn == lastFailed {
					// wait for a (new) connection
					notify := self.connMonitor.NotifyChannel()
					next := self.currentConn()
					if next == nil || next == lastFailed {
						select {
						case <-self.ctx.Done():
							return
						case <-notify:
						}
					}
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := conn.WriteJSON(message); err != nil {
					glog.V(2).Infof("[remote]write: %s\n", err)
					conn.Close()
					lastFailed = conn
					continue
				}
				break
			}
		}
	}
}

func (self *Remote) currentConn() *websocket.Conn {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	return self.conn
}
