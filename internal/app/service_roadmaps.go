package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"prdigy/api/internal/access"
	"prdigy/api/internal/rbac"
	"prdigy/api/internal/roadmap"
	"prdigy/api/internal/search"
)

// authorize loads a roadmap and the caller's role on it, and fails with 403
// unless the role allows action.
func (s *Service) authorize(ctx context.Context, session Session, roadmapID string, action rbac.Action) (roadmap.Roadmap, rbac.Role, error) {
	var (
		rm       roadmap.Roadmap
		settings *access.ShareSettings
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rm, err = s.store.GetRoadmap(gctx, roadmapID)
		return err
	})
	g.Go(func() error {
		var err error
		settings, err = s.store.GetShareSettings(gctx, roadmapID)
		return err
	})
	if err := g.Wait(); err != nil {
		return roadmap.Roadmap{}, "", err
	}

	role, _, ok := access.EffectiveRole(session.viewer(), rm.OwnerID, settings)
	if !ok || !rbac.Can(role, action) {
		return roadmap.Roadmap{}, "", forbidden(string(action))
	}
	return rm, role, nil
}

// authorizeChild resolves the roadmap that owns an entity before authorizing.
func (s *Service) authorizeChild(ctx context.Context, session Session, kind roadmap.Kind, id string, action rbac.Action) (string, error) {
	roadmapID, err := s.store.RoadmapIDFor(ctx, kind, id)
	if err != nil {
		return "", err
	}
	if _, _, err := s.authorize(ctx, session, roadmapID, action); err != nil {
		return "", err
	}
	return roadmapID, nil
}

func (s *Service) ListRoadmaps(ctx context.Context, session Session) ([]roadmap.Roadmap, error) {
	return s.store.ListRoadmapsByOwner(ctx, session.UserID)
}

// ListRoadmapsOwnedBy lists another account's roadmaps. Only that account or
// a holder of its guest token may do so.
func (s *Service) ListRoadmapsOwnedBy(ctx context.Context, session Session, ownerID, guestToken string) ([]roadmap.Roadmap, error) {
	if ownerID != session.UserID {
		if err := s.proveGuest(guestToken, ownerID); err != nil {
			return nil, err
		}
	}
	return s.store.ListRoadmapsByOwner(ctx, ownerID)
}

func (s *Service) CreateRoadmap(ctx context.Context, session Session, in roadmap.RoadmapInput) (roadmap.Roadmap, error) {
	if err := roadmap.ValidateRoadmap(&in); err != nil {
		return roadmap.Roadmap{}, err
	}
	rm, err := s.store.CreateRoadmap(ctx, session.UserID, in)
	if err != nil {
		return roadmap.Roadmap{}, fmt.Errorf("create roadmap: %w", err)
	}
	s.search.IndexTree(roadmap.Tree{Roadmap: rm})
	return rm, nil
}

func (s *Service) GetRoadmap(ctx context.Context, session Session, roadmapID string) (roadmap.Roadmap, rbac.Role, error) {
	return s.authorize(ctx, session, roadmapID, rbac.ActionRead)
}

func (s *Service) GetTree(ctx context.Context, session Session, roadmapID string) (roadmap.Tree, rbac.Role, error) {
	_, role, err := s.authorize(ctx, session, roadmapID, rbac.ActionRead)
	if err != nil {
		return roadmap.Tree{}, "", err
	}
	tree, err := s.store.GetRoadmapTree(ctx, roadmapID)
	if err != nil {
		return roadmap.Tree{}, "", err
	}
	return roadmap.Normalize(tree), role, nil
}

func (s *Service) UpdateRoadmap(ctx context.Context, session Session, roadmapID string, in roadmap.RoadmapInput) (roadmap.Roadmap, error) {
	if _, _, err := s.authorize(ctx, session, roadmapID, rbac.ActionWrite); err != nil {
		return roadmap.Roadmap{}, err
	}
	if err := roadmap.ValidateRoadmap(&in); err != nil {
		return roadmap.Roadmap{}, err
	}
	rm, err := s.store.UpdateRoadmap(ctx, roadmapID, in)
	if err != nil {
		return roadmap.Roadmap{}, err
	}
	s.search.IndexItem(search.ItemRecord{
		ID:          rm.ID,
		Kind:        search.ResultRoadmap,
		RoadmapID:   rm.ID,
		Title:       rm.Name,
		Description: rm.Description,
		Status:      string(rm.Status),
	})
	return rm, nil
}

func (s *Service) DeleteRoadmap(ctx context.Context, session Session, roadmapID string) error {
	if _, _, err := s.authorize(ctx, session, roadmapID, rbac.ActionAdmin); err != nil {
		return err
	}
	if err := s.store.DeleteRoadmap(ctx, roadmapID); err != nil {
		return err
	}
	s.search.RemoveRoadmap(roadmapID)
	return nil
}

func (s *Service) CreateMilestone(ctx context.Context, session Session, roadmapID string, in roadmap.MilestoneInput) (roadmap.Milestone, error) {
	if _, _, err := s.authorize(ctx, session, roadmapID, rbac.ActionWrite); err != nil {
		return roadmap.Milestone{}, err
	}
	if err := roadmap.ValidateMilestone(&in); err != nil {
		return roadmap.Milestone{}, err
	}
	return s.store.CreateMilestone(ctx, roadmapID, in)
}

func (s *Service) UpdateMilestone(ctx context.Context, session Session, milestoneID string, m roadmap.Milestone) (roadmap.Milestone, error) {
	if _, err := s.authorizeChild(ctx, session, roadmap.KindMilestone, milestoneID, rbac.ActionWrite); err != nil {
		return roadmap.Milestone{}, err
	}
	in := roadmap.MilestoneInput{Title: m.Title, Status: m.Status}
	if err := roadmap.ValidateMilestone(&in); err != nil {
		return roadmap.Milestone{}, err
	}
	m.ID = milestoneID
	m.Status = in.Status
	return s.store.UpdateMilestone(ctx, m)
}

func (s *Service) DeleteMilestone(ctx context.Context, session Session, milestoneID string) error {
	if _, err := s.authorizeChild(ctx, session, roadmap.KindMilestone, milestoneID, rbac.ActionWrite); err != nil {
		return err
	}
	return s.store.DeleteMilestone(ctx, milestoneID)
}

func (s *Service) CreateEpic(ctx context.Context, session Session, roadmapID string, in roadmap.EpicInput) (roadmap.Epic, error) {
	if _, _, err := s.authorize(ctx, session, roadmapID, rbac.ActionWrite); err != nil {
		return roadmap.Epic{}, err
	}
	if err := roadmap.ValidateEpic(&in); err != nil {
		return roadmap.Epic{}, err
	}
	epic, err := s.store.CreateEpic(ctx, roadmapID, in)
	if err != nil {
		return roadmap.Epic{}, err
	}
	s.search.IndexItem(search.EpicRecord(epic))
	return epic, nil
}

func (s *Service) UpdateEpic(ctx context.Context, session Session, epicID string, e roadmap.Epic) (roadmap.Epic, error) {
	if _, err := s.authorizeChild(ctx, session, roadmap.KindEpic, epicID, rbac.ActionWrite); err != nil {
		return roadmap.Epic{}, err
	}
	in := roadmap.EpicInput{Title: e.Title, Status: e.Status, Priority: e.Priority}
	if err := roadmap.ValidateEpic(&in); err != nil {
		return roadmap.Epic{}, err
	}
	e.ID, e.Status, e.Priority = epicID, in.Status, in.Priority
	epic, err := s.store.UpdateEpic(ctx, e)
	if err != nil {
		return roadmap.Epic{}, err
	}
	s.search.IndexItem(search.EpicRecord(epic))
	return epic, nil
}

// DeleteEpic removes the epic with its features and tasks. Their index
// entries go with them.
func (s *Service) DeleteEpic(ctx context.Context, session Session, epicID string) error {
	roadmapID, err := s.authorizeChild(ctx, session, roadmap.KindEpic, epicID, rbac.ActionWrite)
	if err != nil {
		return err
	}
	gone := []string{epicID}
	if tree, err := s.store.GetRoadmapTree(ctx, roadmapID); err == nil {
		if i := tree.FindEpic(epicID); i >= 0 {
			for _, f := range tree.Epics[i].Features {
				gone = append(gone, featureSubtree(f)...)
			}
		}
	}
	if err := s.store.DeleteEpic(ctx, epicID); err != nil {
		return err
	}
	s.search.RemoveItems(gone...)
	return nil
}

func featureSubtree(f roadmap.Feature) []string {
	ids := []string{f.ID}
	for _, t := range f.Tasks {
		ids = append(ids, t.ID)
	}
	return ids
}

func (s *Service) CreateFeature(ctx context.Context, session Session, epicID string, in roadmap.FeatureInput) (roadmap.Feature, error) {
	if _, err := s.authorizeChild(ctx, session, roadmap.KindEpic, epicID, rbac.ActionWrite); err != nil {
		return roadmap.Feature{}, err
	}
	if err := roadmap.ValidateFeature(&in); err != nil {
		return roadmap.Feature{}, err
	}
	feature, err := s.store.CreateFeature(ctx, epicID, in)
	if err != nil {
		return roadmap.Feature{}, err
	}
	s.search.IndexItem(search.FeatureRecord(feature))
	return feature, nil
}

func (s *Service) UpdateFeature(ctx context.Context, session Session, featureID string, f roadmap.Feature) (roadmap.Feature, error) {
	if _, err := s.authorizeChild(ctx, session, roadmap.KindFeature, featureID, rbac.ActionWrite); err != nil {
		return roadmap.Feature{}, err
	}
	in := roadmap.FeatureInput{Title: f.Title, Status: f.Status}
	if err := roadmap.ValidateFeature(&in); err != nil {
		return roadmap.Feature{}, err
	}
	f.ID, f.Status = featureID, in.Status
	feature, err := s.store.UpdateFeature(ctx, f)
	if err != nil {
		return roadmap.Feature{}, err
	}
	s.search.IndexItem(search.FeatureRecord(feature))
	return feature, nil
}

func (s *Service) DeleteFeature(ctx context.Context, session Session, featureID string) error {
	roadmapID, err := s.authorizeChild(ctx, session, roadmap.KindFeature, featureID, rbac.ActionWrite)
	if err != nil {
		return err
	}
	gone := []string{featureID}
	if tree, err := s.store.GetRoadmapTree(ctx, roadmapID); err == nil {
		if ei, fi := tree.FindFeature(featureID); ei >= 0 {
			gone = featureSubtree(tree.Epics[ei].Features[fi])
		}
	}
	if err := s.store.DeleteFeature(ctx, featureID); err != nil {
		return err
	}
	s.search.RemoveItems(gone...)
	return nil
}

func (s *Service) CreateTask(ctx context.Context, session Session, featureID string, in roadmap.TaskInput) (roadmap.Task, error) {
	roadmapID, err := s.authorizeChild(ctx, session, roadmap.KindFeature, featureID, rbac.ActionWrite)
	if err != nil {
		return roadmap.Task{}, err
	}
	if err := roadmap.ValidateTask(&in); err != nil {
		return roadmap.Task{}, err
	}
	task, err := s.store.CreateTask(ctx, featureID, in)
	if err != nil {
		return roadmap.Task{}, err
	}
	s.search.IndexItem(search.TaskRecord(roadmapID, task))
	return task, nil
}

func (s *Service) UpdateTask(ctx context.Context, session Session, taskID string, t roadmap.Task) (roadmap.Task, error) {
	roadmapID, err := s.authorizeChild(ctx, session, roadmap.KindTask, taskID, rbac.ActionWrite)
	if err != nil {
		return roadmap.Task{}, err
	}
	in := roadmap.TaskInput{Title: t.Title, Status: t.Status, Priority: t.Priority}
	if err := roadmap.ValidateTask(&in); err != nil {
		return roadmap.Task{}, err
	}
	t.ID, t.Status, t.Priority = taskID, in.Status, in.Priority
	task, err := s.store.UpdateTask(ctx, t)
	if err != nil {
		return roadmap.Task{}, err
	}
	s.search.IndexItem(search.TaskRecord(roadmapID, task))
	return task, nil
}

func (s *Service) DeleteTask(ctx context.Context, session Session, taskID string) error {
	if _, err := s.authorizeChild(ctx, session, roadmap.KindTask, taskID, rbac.ActionWrite); err != nil {
		return err
	}
	if err := s.store.DeleteTask(ctx, taskID); err != nil {
		return err
	}
	s.search.RemoveItems(taskID)
	return nil
}
