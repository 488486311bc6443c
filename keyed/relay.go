package keyed

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

// relay hub. peers connect over websocket, receive the full document set,
// then exchange put envelopes. the relay is not a coordinator: it merges
// whatever arrives, in arrival order, and rebroadcasts.

type RelaySettings struct {
	BindAddress  string        `env:"GAMESYNC_RELAY_BIND" envDefault:":7280"`
	DbPath       string        `env:"GAMESYNC_RELAY_DB"`
	PutSecret    string        `env:"GAMESYNC_PUT_SECRET"`
	WriteTimeout time.Duration `env:"GAMESYNC_RELAY_WRITE_TIMEOUT" envDefault:"10s"`
	SendQueue    int           `env:"GAMESYNC_RELAY_SEND_QUEUE" envDefault:"256"`
}

func DefaultRelaySettings() *RelaySettings {
	return &RelaySettings{
		BindAddress:  ":7280",
		WriteTimeout: 10 * time.Second,
		SendQueue:    256,
	}
}

func RelaySettingsFromEnv() (*RelaySettings, error) {
	settings := &RelaySettings{}
	if err := env.Parse(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

type envelope struct {
	Type     string         `json:"type"`
	ChangeId string         `json:"change_id,omitempty"`
	Path     string         `json:"path,omitempty"`
	Doc      Doc            `json:"doc,omitempty"`
	Docs     map[string]Doc `json:"docs,omitempty"`
	Token    string         `json:"token,omitempty"`
}

const (
	envelopeTypePut  = "put"
	envelopeTypeSync = "sync"
)

type Relay struct {
	ctx    context.Context
	cancel context.CancelFunc

	settings *RelaySettings
	memory   *Memory
	putLog   *PutLog
	signer   *Signer

	upgrader websocket.Upgrader

	mutex sync.Mutex
	conns map[*relayConn]bool
}

type relayConn struct {
	conn *websocket.Conn
	send chan *envelope
}

func NewRelay(ctx context.Context, settings *RelaySettings) (*Relay, error) {
	cancelCtx, cancel := context.WithCancel(ctx)

	relay := &Relay{
		ctx:      cancelCtx,
		cancel:   cancel,
		settings: settings,
		memory:   NewMemoryWithDefaults(cancelCtx),
		conns:    map[*relayConn]bool{},
	}
	if settings.PutSecret != "" {
		relay.signer = NewSigner([]byte(settings.PutSecret))
	}
	if settings.DbPath != "" {
		putLog, err := OpenPutLog(settings.DbPath)
		if err != nil {
			cancel()
			return nil, err
		}
		relay.putLog = putLog
		replayed := 0
		err = putLog.Replay(func(path string, doc Doc) {
			relay.memory.Put(cancelCtx, path, doc)
			replayed += 1
		})
		if err != nil {
			putLog.Close()
			cancel()
			return nil, err
		}
		glog.Infof("[relay]replayed %d puts from %s\n", replayed, settings.DbPath)
	}
	return relay, nil
}

// the merged store contents, for inspection and snapshot export
func (self *Relay) Memory() *Memory {
	return self.memory
}

func (self *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.V(1).Infof("[relay]upgrade: %s\n", err)
		return
	}

	peer := &relayConn{
		conn: conn,
		send: make(chan *envelope, self.settings.SendQueue),
	}

	self.mutex.Lock()
	self.conns[peer] = true
	self.mutex.Unlock()

	// full state sync for the new peer
	peer.send <- &envelope{
		Type: envelopeTypeSync,
		Docs: self.memory.Export(),
	}

	go self.writeLoop(peer)
	self.readLoop(peer)
}

func (self *Relay) Close() {
	self.cancel()

	self.mutex.Lock()
	conns := make([]*relayConn, 0, len(self.conns))
	for peer := range self.conns {
		conns = append(conns, peer)
	}
	self.mutex.Unlock()

	for _, peer := range conns {
		peer.conn.Close()
	}
	if self.putLog != nil {
		self.putLog.Close()
	}
}

func (self *Relay) readLoop(peer *relayConn) {
	defer self.drop(peer)

	for {
		message := &envelope{}
		if err := peer.conn.ReadJSON(message); err != nil {
			glog.V(2).Infof("[relay]read: %s\n", err)
			return
		}
		if message.Type != envelopeTypePut {
			continue
		}
		if !ValidPath(message.Path) {
			glog.V(1).Infof("[relay]bad path %q\n", message.Path)
			continue
		}
		if self.signer != nil {
			if err := self.signer.Verify(message.Token, message.Path, message.Doc); err != nil {
				glog.Errorf("[relay]rejected unsigned put for %s: %s\n", message.Path, err)
				continue
			}
		}

		self.memory.Put(self.ctx, message.Path, message.Doc)
		if self.putLog != nil {
			self.putLog.Append(message.ChangeId, message.Path, message.Doc)
		}
		self.broadcast(peer, message)
	}
}

func (self *Relay) writeLoop(peer *relayConn) {
	for {
		select {
		case <-self.ctx.Done():
			return
		case message, ok := <-peer.send:
			if !ok {
				return
			}
			peer.conn.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
			if err := peer.conn.WriteJSON(message); err != nil {
				glog.V(2).Infof("[relay]write: %s\n", err)
				peer.conn.Close()
				return
			}
		}
	}
}

func (self *Relay) broadcast(origin *relayConn, message *envelope) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	for peer := range self.conns {
		if peer == origin {
			continue
		}
		select {
		case peer.send <- message:
		default:
			// slow peer. it will resync on reconnect.
			glog.V(1).Infof("[relay]send queue full, dropping peer\n")
			peer.conn.Close()
		}
	}
}

func (self *Relay) drop(peer *relayConn) {
	self.mutex.Lock()
	if _, ok := self.conns[peer]; ok {
		delete(self.conns, peer)
		close(peer.send)
	}
	self.mutex.Unlock()
	peer.conn.Close()
}
