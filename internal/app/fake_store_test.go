package app

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"prdigy/api/internal/access"
	"prdigy/api/internal/roadmap"
	"prdigy/api/internal/store"
)

var _ dataStore = (*fakeStore)(nil)

// fakeStore is an in-memory dataStore. Missing rows read as sql.ErrNoRows
// like the Postgres store.
type fakeStore struct {
	mu       sync.Mutex
	seq      int
	users    map[string]store.User
	resets   map[string]string
	refresh  map[string]string
	revoked  map[string]bool
	trees    map[string]*roadmap.Tree
	shares   map[string]access.ShareSettings
	invited  map[string]time.Time
	accesses map[string]int

	pingFn     func(context.Context) error
	transferFn func(context.Context, string, string) (int, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    map[string]store.User{},
		resets:   map[string]string{},
		refresh:  map[string]string{},
		revoked:  map[string]bool{},
		trees:    map[string]*roadmap.Tree{},
		shares:   map[string]access.ShareSettings{},
		invited:  map[string]time.Time{},
		accesses: map[string]int{},
	}
}

func (f *fakeStore) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%03d", prefix, f.seq)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

// Users

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user.Email != "" {
		for _, u := range f.users {
			if u.Email == user.Email {
				return store.ErrConflict
			}
		}
	}
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range f.users {
		if u.Email != "" && u.Email == email {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) UpdateUserVerificationToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.VerificationToken = token
	u.VerificationExpiresAt = &expiresAt
	f.users[userID] = u
	return nil
}

func (f *fakeStore) VerifyUserEmail(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, u := range f.users {
		if u.VerificationToken != "" && u.VerificationToken == token {
			u.IsEmailVerified = true
			u.VerificationToken = ""
			f.users[id] = u
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[userID]
	u.PasswordHash = passwordHash
	f.users[userID] = u
	return nil
}

func (f *fakeStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[token] = userID
	return nil
}

func (f *fakeStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.resets[token]
	if !ok {
		return "", sql.ErrNoRows
	}
	return id, nil
}

func (f *fakeStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.resets, token)
	return nil
}

// Sessions

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = userID
	return nil
}

func (f *fakeStore) LookupRefreshSession(_ context.Context, tokenHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.refresh[tokenHash]
	if !ok {
		return "", sql.ErrNoRows
	}
	return id, nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

// Roadmaps

func (f *fakeStore) CreateRoadmap(_ context.Context, ownerID string, in roadmap.RoadmapInput) (roadmap.Roadmap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rm := roadmap.Roadmap{ID: f.nextID("rm"), Name: in.Name, Description: in.Description, OwnerID: ownerID, Status: in.Status}
	f.trees[rm.ID] = &roadmap.Tree{Roadmap: rm, Milestones: []roadmap.Milestone{}, Epics: []roadmap.Epic{}}
	return rm, nil
}

func (f *fakeStore) GetRoadmap(_ context.Context, roadmapID string) (roadmap.Roadmap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tree, ok := f.trees[roadmapID]
	if !ok {
		return roadmap.Roadmap{}, sql.ErrNoRows
	}
	return tree.Roadmap, nil
}

func (f *fakeStore) UpdateRoadmap(_ context.Context, roadmapID string, in roadmap.RoadmapInput) (roadmap.Roadmap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tree, ok := f.trees[roadmapID]
	if !ok {
		return roadmap.Roadmap{}, sql.ErrNoRows
	}
	tree.Roadmap.Name, tree.Roadmap.Description, tree.Roadmap.Status = in.Name, in.Description, in.Status
	return tree.Roadmap, nil
}

func (f *fakeStore) DeleteRoadmap(_ context.Context, roadmapID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.trees[roadmapID]; !ok {
		return sql.ErrNoRows
	}
	delete(f.trees, roadmapID)
	delete(f.shares, roadmapID)
	return nil
}

func (f *fakeStore) GetRoadmapTree(_ context.Context, roadmapID string) (roadmap.Tree, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tree, ok := f.trees[roadmapID]
	if !ok {
		return roadmap.Tree{}, sql.ErrNoRows
	}
	return tree.Clone(), nil
}

func (f *fakeStore) ListRoadmapsByOwner(_ context.Context, ownerID string) ([]roadmap.Roadmap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []roadmap.Roadmap{}
	for _, tree := range f.trees {
		if tree.Roadmap.OwnerID == ownerID {
			out = append(out, tree.Roadmap)
		}
	}
	slices.SortFunc(out, func(a, b roadmap.Roadmap) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (f *fakeStore) TransferOwnership(ctx context.Context, guestID, targetID string) (int, error) {
	if f.transferFn != nil {
		return f.transferFn(ctx, guestID, targetID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, tree := range f.trees {
		if tree.Roadmap.OwnerID == guestID {
			tree.Roadmap.OwnerID = targetID
			n++
		}
	}
	for id, settings := range f.shares {
		if settings.OwnerID == guestID {
			settings.OwnerID = targetID
			f.shares[id] = settings
		}
	}
	return n, nil
}

func (f *fakeStore) RoadmapIDFor(_ context.Context, kind roadmap.Kind, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for rid, tree := range f.trees {
		switch kind {
		case roadmap.KindRoadmap:
			if rid == id {
				return rid, nil
			}
		case roadmap.KindMilestone:
			if tree.FindMilestone(id) >= 0 {
				return rid, nil
			}
		case roadmap.KindEpic:
			if tree.FindEpic(id) >= 0 {
				return rid, nil
			}
		case roadmap.KindFeature:
			if i, _ := tree.FindFeature(id); i >= 0 {
				return rid, nil
			}
		case roadmap.KindTask:
			if i, _, _ := tree.FindTask(id); i >= 0 {
				return rid, nil
			}
		}
	}
	return "", sql.ErrNoRows
}

// slot clamps a requested position into [0, n].
func slot(requested *int, n int) int {
	if requested == nil || *requested >= n {
		return n
	}
	return max(*requested, 0)
}

func (f *fakeStore) CreateMilestone(_ context.Context, roadmapID string, in roadmap.MilestoneInput) (roadmap.Milestone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tree, ok := f.trees[roadmapID]
	if !ok {
		return roadmap.Milestone{}, sql.ErrNoRows
	}
	pos := slot(in.Position, len(tree.Milestones))
	m := roadmap.Milestone{ID: f.nextID("ms"), RoadmapID: roadmapID, Title: in.Title, Status: in.Status, FeatureIDs: append([]string{}, in.FeatureIDs...)}
	tree.Milestones = slices.Insert(tree.Milestones, pos, m)
	for i := range tree.Milestones {
		tree.Milestones[i].Position = i
	}
	return tree.Milestones[pos], nil
}

func (f *fakeStore) UpdateMilestone(_ context.Context, m roadmap.Milestone) (roadmap.Milestone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tree := range f.trees {
		if i := tree.FindMilestone(m.ID); i >= 0 {
			cur := &tree.Milestones[i]
			cur.Title, cur.Description, cur.Status, cur.TargetDate = m.Title, m.Description, m.Status, m.TargetDate
			cur.FeatureIDs = append([]string{}, m.FeatureIDs...)
			return *cur, nil
		}
	}
	return roadmap.Milestone{}, sql.ErrNoRows
}

func (f *fakeStore) DeleteMilestone(_ context.Context, milestoneID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tree := range f.trees {
		if i := tree.FindMilestone(milestoneID); i >= 0 {
			tree.Milestones = slices.Delete(tree.Milestones, i, i+1)
			for j := range tree.Milestones {
				tree.Milestones[j].Position = j
			}
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) CreateEpic(_ context.Context, roadmapID string, in roadmap.EpicInput) (roadmap.Epic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tree, ok := f.trees[roadmapID]
	if !ok {
		return roadmap.Epic{}, sql.ErrNoRows
	}
	pos := slot(in.Position, len(tree.Epics))
	e := roadmap.Epic{ID: f.nextID("ep"), RoadmapID: roadmapID, Title: in.Title, Description: in.Description, Priority: in.Priority, Status: in.Status, Features: []roadmap.Feature{}}
	tree.Epics = slices.Insert(tree.Epics, pos, e)
	for i := range tree.Epics {
		tree.Epics[i].Position = i
	}
	out := tree.Epics[pos]
	out.Features = []roadmap.Feature{}
	return out, nil
}

func (f *fakeStore) UpdateEpic(_ context.Context, e roadmap.Epic) (roadmap.Epic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tree := range f.trees {
		if i := tree.FindEpic(e.ID); i >= 0 {
			cur := &tree.Epics[i]
			cur.Title, cur.Description, cur.Priority, cur.Status = e.Title, e.Description, e.Priority, e.Status
			out := *cur
			out.Features = nil
			return out, nil
		}
	}
	return roadmap.Epic{}, sql.ErrNoRows
}

func (f *fakeStore) DeleteEpic(_ context.Context, epicID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tree := range f.trees {
		if i := tree.FindEpic(epicID); i >= 0 {
			tree.Epics = slices.Delete(tree.Epics, i, i+1)
			for j := range tree.Epics {
				tree.Epics[j].Position = j
			}
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) CreateFeature(_ context.Context, epicID string, in roadmap.FeatureInput) (roadmap.Feature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tree := range f.trees {
		if i := tree.FindEpic(epicID); i >= 0 {
			epic := &tree.Epics[i]
			pos := slot(in.Position, len(epic.Features))
			feature := roadmap.Feature{ID: f.nextID("ft"), EpicID: epicID, RoadmapID: epic.RoadmapID, Title: in.Title, Status: in.Status, IsDeliverable: in.IsDeliverable, Tasks: []roadmap.Task{}}
			epic.Features = slices.Insert(epic.Features, pos, feature)
			for j := range epic.Features {
				epic.Features[j].Position = j
			}
			return epic.Features[pos], nil
		}
	}
	return roadmap.Feature{}, sql.ErrNoRows
}

func (f *fakeStore) UpdateFeature(_ context.Context, in roadmap.Feature) (roadmap.Feature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tree := range f.trees {
		if ei, fi := tree.FindFeature(in.ID); ei >= 0 {
			cur := &tree.Epics[ei].Features[fi]
			cur.Title, cur.Description, cur.Status, cur.IsDeliverable = in.Title, in.Description, in.Status, in.IsDeliverable
			out := *cur
			out.Tasks = nil
			return out, nil
		}
	}
	return roadmap.Feature{}, sql.ErrNoRows
}

func (f *fakeStore) DeleteFeature(_ context.Context, featureID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tree := range f.trees {
		if ei, fi := tree.FindFeature(featureID); ei >= 0 {
			epic := &tree.Epics[ei]
			epic.Features = slices.Delete(epic.Features, fi, fi+1)
			for j := range epic.Features {
				epic.Features[j].Position = j
			}
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) CreateTask(_ context.Context, featureID string, in roadmap.TaskInput) (roadmap.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tree := range f.trees {
		if ei, fi := tree.FindFeature(featureID); ei >= 0 {
			feature := &tree.Epics[ei].Features[fi]
			pos := slot(in.Position, len(feature.Tasks))
			task := roadmap.Task{ID: f.nextID("tk"), FeatureID: featureID, Title: in.Title, Status: in.Status, Priority: in.Priority, Checklist: in.Checklist}
			feature.Tasks = slices.Insert(feature.Tasks, pos, task)
			for j := range feature.Tasks {
				feature.Tasks[j].Position = j
			}
			return feature.Tasks[pos], nil
		}
	}
	return roadmap.Task{}, sql.ErrNoRows
}

func (f *fakeStore) UpdateTask(_ context.Context, in roadmap.Task) (roadmap.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tree := range f.trees {
		if ei, fi, ti := tree.FindTask(in.ID); ei >= 0 {
			cur := &tree.Epics[ei].Features[fi].Tasks[ti]
			cur.Title, cur.Description, cur.Status, cur.Priority = in.Title, in.Description, in.Status, in.Priority
			return *cur, nil
		}
	}
	return roadmap.Task{}, sql.ErrNoRows
}

func (f *fakeStore) DeleteTask(_ context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tree := range f.trees {
		if ei, fi, ti := tree.FindTask(taskID); ei >= 0 {
			feature := &tree.Epics[ei].Features[fi]
			feature.Tasks = slices.Delete(feature.Tasks, ti, ti+1)
			for j := range feature.Tasks {
				feature.Tasks[j].Position = j
			}
			return nil
		}
	}
	return sql.ErrNoRows
}

// Sharing

func (f *fakeStore) GetShareSettings(_ context.Context, roadmapID string) (*access.ShareSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	settings, ok := f.shares[roadmapID]
	if !ok {
		return nil, nil
	}
	settings.AccessCount = f.accesses[roadmapID]
	return &settings, nil
}

func (f *fakeStore) GetShareSettingsByToken(_ context.Context, token string) (*access.ShareSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, settings := range f.shares {
		if settings.PublicLink.Token == token {
			return &settings, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) UpsertShareSettings(_ context.Context, settings access.ShareSettings) (access.ShareSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for _, inv := range settings.Invitations {
		key := settings.RoadmapID + "|" + inv.Email
		if _, ok := f.invited[key]; !ok {
			f.invited[key] = now
		}
	}
	f.shares[settings.RoadmapID] = settings
	return settings, nil
}

func (f *fakeStore) DeleteShareSettings(_ context.Context, roadmapID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.shares, roadmapID)
	return nil
}

func (f *fakeStore) RecordShareAccess(_ context.Context, roadmapID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accesses[roadmapID]++
	return nil
}

func (f *fakeStore) ListSharedWith(_ context.Context, email string) ([]access.SharedRoadmap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []access.SharedRoadmap{}
	for id, settings := range f.shares {
		for _, inv := range settings.Invitations {
			if inv.Email == email {
				out = append(out, access.SharedRoadmap{Roadmap: f.trees[id].Roadmap, Role: inv.Role, InvitedAt: f.invited[id+"|"+email]})
			}
		}
	}
	return out, nil
}
