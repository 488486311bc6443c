package keyed

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
)

// zstd-compressed json dump of a full document set.
// used by the ctl for backup and offline inspection.

const snapshotVersion = 1

type Snapshot struct {
	Version    int            `json:"version"`
	CreateTime time.Time      `json:"create_time"`
	Docs       map[string]Doc `json:"docs"`
}

func WriteSnapshot(w io.Writer, docs map[string]Doc) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	snapshot := &Snapshot{
		Version:    snapshotVersion,
		CreateTime: time.Now().UTC(),
		Docs:       docs,
	}
	if err := json.NewEncoder(zw).Encode(snapshot); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	snapshot := &Snapshot{}
	if err := json.NewDecoder(zr).Decode(snapshot); err != nil {
		return nil, err
	}
	if snapshot.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snapshot.Version)
	}
	return snapshot, nil
}
