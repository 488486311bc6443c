package keyed

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	_ "modernc.org/sqlite"
)

// durable append-only log of accepted puts, replayed on relay start.
// a single writer goroutine owns the db handle so callers never block on
// disk i/o.

const putLogQueueSize = 1024

type PutLog struct {
	db *sql.DB

	ch     chan putLogEntry
	wg     sync.WaitGroup
	closed atomic.Bool
}

type putLogEntry struct {
	changeId string
	path     string
	doc      Doc
}

func OpenPutLog(path string) (*PutLog, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS puts (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			change_id TEXT NOT NULL,
			path TEXT NOT NULL,
			doc TEXT NOT NULL,
			create_time TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, err
	}

	putLog := &PutLog{
		db: db,
		ch: make(chan putLogEntry, putLogQueueSize),
	}
	putLog.wg.Add(1)
	go putLog.run()
	return putLog, nil
}

// enqueues for the writer goroutine. drops with a logged error if the
// queue is full rather than stalling the accept path.
func (self *PutLog) Append(changeId string, path string, doc Doc) {
	if self.closed.Load() {
		return
	}
	select {
	case self.ch <- putLogEntry{changeId: changeId, path: path, doc: doc}:
	default:
		glog.Errorf("[putlog]queue full, dropped %s\n", path)
	}
}

// replays every logged put in sequence order
func (self *PutLog) Replay(apply func(path string, doc Doc)) error {
	rows, err := self.db.Query(`SELECT path, doc FROM puts ORDER BY seq ASC`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var path string
		var docJson string
		if err := rows.Scan(&path, &docJson); err != nil {
			return err
		}
		var doc Doc
		if err := json.Unmarshal([]byte(docJson), &doc); err != nil {
			glog.Errorf("[putlog]skip corrupt entry for %s: %s\n", path, err)
			continue
		}
		apply(path, doc)
	}
	return rows.Err()
}

func (self *PutLog) Close() {
	if !self.closed.CompareAndSwap(false, true) {
		return
	}
	close(self.ch)
	self.wg.Wait()
	self.db.Close()
}

func (self *PutLog) run() {
	defer self.wg.Done()

	for entry := range self.ch {
		docJson, err := json.Marshal(entry.doc)
		if err != nil {
			glog.Errorf("[putlog]marshal %s: %s\n", entry.path, err)
			continue
		}
		_, err = self.db.Exec(
			`INSERT INTO puts (change_id, path, doc, create_time) VALUES (?, ?, ?, ?)`,
			entry.changeId,
			entry.path,
			string(docJson),
			time.Now().UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			glog.Errorf("[putlog]insert %s: %s\n", entry.path, err)
		}
	}
}
