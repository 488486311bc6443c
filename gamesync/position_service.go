package gamesync

import (
	"errors"

	"github.com/golang/glog"

	"accordsim.com/gamesync/keyed"
)

// node positions are a pure layout cache for the force graph, sharded per
// game+node so one dragging client never rewrites another node's document.
// they are written at drag frequency and are disposable, so they skip the
// verification pass.

func (self *Service) SaveNodePosition(gameId string, nodeId string, nodeType string, x float64, y float64) (ok bool) {
	defer self.absorb("SaveNodePosition")

	if !self.ready() || gameId == "" || nodeId == "" {
		return false
	}

	position := &NodePosition{
		NodeId:     nodeId,
		GameRef:    gameId,
		NodeType:   nodeType,
		X:          x,
		Y:          y,
		UpdateTime: nowMillis(),
	}
	doc, err := toDoc(position)
	if err != nil {
		return false
	}

	self.cache.PutPosition(gameId, nodeId, position)
	self.putWithTimeout(positionPath(gameId, nodeId), doc)
	return true
}

func (self *Service) NodePosition(gameId string, nodeId string) *NodePosition {
	defer self.absorb("NodePosition")

	if !self.ready() {
		return nil
	}
	if position, ok := self.cache.Position(gameId, nodeId); ok {
		return position
	}

	doc, err := self.store.Get(self.ctx, positionPath(gameId, nodeId))
	if err != nil {
		if !errors.Is(err, keyed.ErrNotFound) {
			glog.Errorf("[ps]get position %s/%s: %s\n", gameId, nodeId, err)
		}
		return nil
	}
	position, err := fromDoc[NodePosition](doc)
	if err != nil {
		return nil
	}
	self.cache.PutPosition(gameId, nodeId, position)
	return position
}

// every position the cache has seen for the game
func (self *Service) NodePositions(gameId string) []*NodePosition {
	defer self.absorb("NodePositions")

	if !self.ready() {
		return nil
	}
	return self.cache.PositionsForGame(gameId)
}
