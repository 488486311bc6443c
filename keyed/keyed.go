package keyed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
)

// a keyed document store addressed by path strings ("<kind>/<id>").
// documents are flat field maps; edge sets are nested maps of id->true.
// all implementations are eventually consistent: a put is accepted locally
// and propagates to other peers best effort.

var ErrNotFound = errors.New("not found")
var ErrNotReady = errors.New("store not ready")
var ErrBadPath = errors.New("bad path")

// one stored document
type Doc = map[string]any

type Store interface {
	// returns a copy of the document at path
	Get(ctx context.Context, path string) (Doc, error)
	// merges doc into the document at path, field by field.
	// a field whose value is a map merges key by key into an existing map
	// value; a nil key value removes the key (tombstone). any other field
	// value overwrites. last write observed wins.
	Put(ctx context.Context, path string, doc Doc) error
	// merges {leaf(targetPath): true} into the `field` edge set at path
	SetEdge(ctx context.Context, path string, field string, targetPath string) error
	// live subscription. the callback is invoked with the current document
	// (if any) and again on every subsequent change. returns an unsubscribe.
	On(path string, callback func(Doc)) func()
	// one-shot read. the callback receives nil if the document does not exist.
	Once(path string, callback func(Doc))
}

// comparable
type Id [16]byte

func NewId() Id {
	return Id(ulid.Make())
}

func ParseId(idStr string) (Id, error) {
	parsed, err := ulid.ParseStrict(idStr)
	if err != nil {
		return Id{}, err
	}
	return Id(parsed), nil
}

func (self Id) Bytes() []byte {
	return self[0:16]
}

func (self Id) String() string {
	return ulid.ULID(self).String()
}

func (self *Id) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", self.String())), nil
}

func (self *Id) UnmarshalJSON(src []byte) error {
	if len(src) < 2 || src[0] != '"' || src[len(src)-1] != '"' {
		return fmt.Errorf("invalid id: %s", string(src))
	}
	id, err := ParseId(string(src[1 : len(src)-1]))
	if err != nil {
		return err
	}
	*self = id
	return nil
}

func JoinPath(parts ...string) string {
	return strings.Join(parts, "/")
}

func SplitPath(path string) ([]string, error) {
	if !ValidPath(path) {
		return nil, ErrBadPath
	}
	return strings.Split(path, "/"), nil
}

// the last path segment, typically an entity id
func Leaf(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return path
	}
	return path[i+1:]
}

func ValidPath(path string) bool {
	if path == "" {
		return false
	}
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			return false
		}
	}
	return true
}

// merges src into dst per the `Put` contract and returns dst
func MergeDoc(dst Doc, src Doc) Doc {
	if dst == nil {
		dst = Doc{}
	}
	for field, value := range src {
		if value == nil {
			delete(dst, field)
			continue
		}
		srcMap, srcIsMap := asMap(value)
		dstMap, dstIsMap := asMap(dst[field])
		if srcIsMap && dstIsMap {
			for k, v := range srcMap {
				if v == nil {
					delete(dstMap, k)
				} else {
					dstMap[k] = v
				}
			}
			dst[field] = dstMap
			continue
		}
		if srcIsMap {
			merged := Doc{}
			for k, v := range srcMap {
				if v != nil {
					merged[k] = v
				}
			}
			dst[field] = merged
			continue
		}
		dst[field] = value
	}
	return dst
}

// returns a deep copy of doc safe to hand to callers
func CopyDoc(doc Doc) Doc {
	if doc == nil {
		return nil
	}
	out := Doc{}
	for field, value := range doc {
		if m, ok := asMap(value); ok {
			out[field] = CopyDoc(m)
		} else {
			out[field] = value
		}
	}
	return out
}

func asMap(value any) (Doc, bool) {
	switch m := value.(type) {
	case Doc:
		return m, true
	default:
		return nil, false
	}
}
