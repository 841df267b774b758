package app

import (
	"context"
	"errors"
	"slices"

	"golang.org/x/sync/errgroup"

	"prdigy/api/internal/access"
	"prdigy/api/internal/rbac"
	"prdigy/api/internal/search"
)

// GetShareSettings returns nil when the roadmap was never shared.
func (s *Service) GetShareSettings(ctx context.Context, session Session, roadmapID string) (*access.ShareSettings, error) {
	if _, _, err := s.authorize(ctx, session, roadmapID, rbac.ActionAdmin); err != nil {
		return nil, err
	}
	return s.access.GetShareSettings(ctx, roadmapID)
}

func (s *Service) ShareRoadmap(ctx context.Context, session Session, roadmapID string, in access.ShareInput) (access.ShareSettings, error) {
	if _, _, err := s.authorize(ctx, session, roadmapID, rbac.ActionAdmin); err != nil {
		return access.ShareSettings{}, err
	}
	return s.access.ShareRoadmap(ctx, roadmapID, in)
}

func (s *Service) DisableSharing(ctx context.Context, session Session, roadmapID string) error {
	if _, _, err := s.authorize(ctx, session, roadmapID, rbac.ActionAdmin); err != nil {
		return err
	}
	return s.access.DisableSharing(ctx, roadmapID)
}

// SharedWithMe is empty for guests, who have no address to be invited at.
func (s *Service) SharedWithMe(ctx context.Context, session Session) ([]access.SharedRoadmap, error) {
	shared, err := s.access.SharedWithMe(ctx, session.viewer())
	if errors.Is(err, access.ErrAnonymous) {
		return []access.SharedRoadmap{}, nil
	}
	return shared, err
}

// ResolveShareToken opens a roadmap through its public token. session may
// be nil for anonymous visitors.
func (s *Service) ResolveShareToken(ctx context.Context, token string, session *Session) (access.Resolution, error) {
	viewer := access.Viewer{}
	if session != nil {
		viewer = session.viewer()
	}
	return s.access.RoadmapByShareToken(ctx, token, viewer)
}

// readableRoadmaps lists every roadmap the caller owns or is invited to.
func (s *Service) readableRoadmaps(ctx context.Context, session Session) ([]string, error) {
	var owned, shared []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		items, err := s.store.ListRoadmapsByOwner(gctx, session.UserID)
		for _, rm := range items {
			owned = append(owned, rm.ID)
		}
		return err
	})
	g.Go(func() error {
		items, err := s.SharedWithMe(gctx, session)
		for _, item := range items {
			shared = append(shared, item.Roadmap.ID)
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	ids := append(owned, shared...)
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

// Search looks through the caller's readable roadmaps. A RoadmapIDs filter
// narrows that set and never widens it.
func (s *Service) Search(ctx context.Context, session Session, q search.Query) (search.Response, error) {
	readable, err := s.readableRoadmaps(ctx, session)
	if err != nil {
		return search.Response{}, err
	}
	if len(q.RoadmapIDs) > 0 {
		readable = slices.DeleteFunc(readable, func(id string) bool {
			return !slices.Contains(q.RoadmapIDs, id)
		})
	}
	if len(readable) == 0 {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	q.RoadmapIDs = readable
	return s.search.Search(ctx, q), nil
}
