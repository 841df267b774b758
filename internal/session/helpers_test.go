package session

import (
	"context"

	"prdigy/api/internal/roadmap"
)

type ownerGateway struct {
	owners    map[string]string
	transfers int
}

func (g *ownerGateway) ListRoadmapsByOwner(_ context.Context, ownerID string) ([]roadmap.Roadmap, error) {
	var out []roadmap.Roadmap
	for id, owner := range g.owners {
		if owner == ownerID {
			out = append(out, roadmap.Roadmap{ID: id, OwnerID: owner})
		}
	}
	return out, nil
}

func (g *ownerGateway) TransferOwnership(_ context.Context, from, to string) (int, error) {
	g.transfers++
	n := 0
	for id, owner := range g.owners {
		if owner == from {
			g.owners[id] = to
			n++
		}
	}
	return n, nil
}
