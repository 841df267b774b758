package roadmap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"prdigy/api/internal/rbac"
)

// fakeGateway assigns IDs, clamps positions and shifts siblings the way the
// server does. Func fields override individual calls.
type fakeGateway struct {
	mu      sync.Mutex
	tree    Tree
	nextID  int
	calls   int
	loadFn  func(ctx context.Context, roadmapID string) (Tree, error)
	epicFn  func(ctx context.Context, roadmapID string, in EpicInput) (Epic, error)
	failAll error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{tree: Tree{Roadmap: Roadmap{ID: "rm_1", Name: "Launch", OwnerID: "usr_1", Status: RoadmapActive}}}
}

func (g *fakeGateway) id(prefix string) string {
	g.nextID++
	return fmt.Sprintf("%s_%d", prefix, g.nextID)
}

func (g *fakeGateway) begin() error {
	g.calls++
	return g.failAll
}

func position(p *int, n int) int {
	if p == nil || *p > n {
		return n
	}
	return *p
}

func (g *fakeGateway) GetRoadmapTree(ctx context.Context, roadmapID string) (Tree, error) {
	if g.loadFn != nil {
		return g.loadFn(ctx, roadmapID)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(); err != nil {
		return Tree{}, err
	}
	if roadmapID != g.tree.Roadmap.ID {
		return Tree{}, ErrNotFound
	}
	return g.tree.Clone(), nil
}

func (g *fakeGateway) UpdateRoadmap(_ context.Context, roadmapID string, in RoadmapInput) (Roadmap, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(); err != nil {
		return Roadmap{}, err
	}
	g.tree.Roadmap.Name = in.Name
	g.tree.Roadmap.Description = in.Description
	g.tree.Roadmap.Status = in.Status
	return g.tree.Roadmap, nil
}

func (g *fakeGateway) CreateMilestone(_ context.Context, roadmapID string, in MilestoneInput) (Milestone, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(); err != nil {
		return Milestone{}, err
	}
	m := Milestone{ID: g.id("ms"), RoadmapID: roadmapID, Title: in.Title, Status: in.Status, FeatureIDs: in.FeatureIDs}
	g.tree.Milestones = insertAt(g.tree.Milestones, m, position(in.Position, len(g.tree.Milestones)))
	return g.tree.Milestones[g.tree.FindMilestone(m.ID)], nil
}

func (g *fakeGateway) UpdateMilestone(_ context.Context, m Milestone) (Milestone, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(); err != nil {
		return Milestone{}, err
	}
	return m, nil
}

func (g *fakeGateway) DeleteMilestone(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(); err != nil {
		return err
	}
	g.tree.Milestones, _ = removeAt(g.tree.Milestones, id)
	return nil
}

func (g *fakeGateway) CreateEpic(ctx context.Context, roadmapID string, in EpicInput) (Epic, error) {
	if g.epicFn != nil {
		return g.epicFn(ctx, roadmapID, in)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(); err != nil {
		return Epic{}, err
	}
	e := Epic{ID: g.id("ep"), RoadmapID: roadmapID, Title: in.Title, Status: in.Status, Priority: in.Priority}
	g.tree.Epics = insertAt(g.tree.Epics, e, position(in.Position, len(g.tree.Epics)))
	return g.tree.Epics[g.tree.FindEpic(e.ID)], nil
}

func (g *fakeGateway) UpdateEpic(_ context.Context, e Epic) (Epic, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(); err != nil {
		return Epic{}, err
	}
	// The server answers without nested children.
	e.Features = nil
	return e, nil
}

func (g *fakeGateway) DeleteEpic(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(); err != nil {
		return err
	}
	g.tree.Epics, _ = removeAt(g.tree.Epics, id)
	return nil
}

func (g *fakeGateway) CreateFeature(_ context.Context, epicID string, in FeatureInput) (Feature, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(); err != nil {
		return Feature{}, err
	}
	i := g.tree.FindEpic(epicID)
	if i < 0 {
		return Feature{}, ErrNotFound
	}
	f := Feature{ID: g.id("ft"), EpicID: epicID, RoadmapID: g.tree.Epics[i].RoadmapID, Title: in.Title, Status: in.Status, IsDeliverable: in.IsDeliverable}
	features := g.tree.Epics[i].Features
	g.tree.Epics[i].Features = insertAt(features, f, position(in.Position, len(features)))
	for _, got := range g.tree.Epics[i].Features {
		if got.ID == f.ID {
			return got, nil
		}
	}
	return f, nil
}

func (g *fakeGateway) UpdateFeature(_ context.Context, f Feature) (Feature, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(); err != nil {
		return Feature{}, err
	}
	f.Tasks = nil
	return f, nil
}

func (g *fakeGateway) DeleteFeature(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(); err != nil {
		return err
	}
	if i, _ := g.tree.FindFeature(id); i >= 0 {
		g.tree.Epics[i].Features, _ = removeAt(g.tree.Epics[i].Features, id)
	}
	return nil
}

func (g *fakeGateway) CreateTask(_ context.Context, featureID string, in TaskInput) (Task, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(); err != nil {
		return Task{}, err
	}
	i, j := g.tree.FindFeature(featureID)
	if i < 0 {
		return Task{}, ErrNotFound
	}
	task := Task{ID: g.id("tk"), FeatureID: featureID, Title: in.Title, Status: in.Status, Priority: in.Priority}
	tasks := g.tree.Epics[i].Features[j].Tasks
	g.tree.Epics[i].Features[j].Tasks = insertAt(tasks, task, position(in.Position, len(tasks)))
	for _, got := range g.tree.Epics[i].Features[j].Tasks {
		if got.ID == task.ID {
			return got, nil
		}
	}
	return task, nil
}

func (g *fakeGateway) UpdateTask(_ context.Context, task Task) (Task, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(); err != nil {
		return Task{}, err
	}
	return task, nil
}

func (g *fakeGateway) DeleteTask(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin(); err != nil {
		return err
	}
	if i, j, _ := g.tree.FindTask(id); i >= 0 {
		g.tree.Epics[i].Features[j].Tasks, _ = removeAt(g.tree.Epics[i].Features[j].Tasks, id)
	}
	return nil
}

func intPtr(v int) *int { return &v }

func loadedStore(t *testing.T, gw *fakeGateway, opts ...Option) *Store {
	t.Helper()
	s := NewStore(gw, opts...)
	require.NoError(t, s.Load(context.Background(), "rm_1"))
	return s
}

func mustSnapshot(t *testing.T, s *Store) Tree {
	t.Helper()
	tree, err := s.Snapshot()
	require.NoError(t, err)
	return tree
}

func TestStoreAddEpicShiftsSiblings(t *testing.T) {
	ctx := context.Background()
	s := loadedStore(t, newFakeGateway())

	for _, title := range []string{"one", "two", "three"} {
		_, err := s.AddEpic(ctx, EpicInput{Title: title})
		require.NoError(t, err)
	}
	inserted, err := s.AddEpic(ctx, EpicInput{Title: "wedge", Position: intPtr(1)})
	require.NoError(t, err)
	require.Equal(t, 1, inserted.Position)

	tree := mustSnapshot(t, s)
	titles := make([]string, len(tree.Epics))
	for i, e := range tree.Epics {
		titles[i] = e.Title
	}
	require.Equal(t, []string{"one", "wedge", "two", "three"}, titles)
	require.Equal(t, []int{0, 1, 2, 3}, epicPositions(tree.Epics))
	require.Equal(t, EpicBacklog, tree.Epics[1].Status)
	require.Equal(t, PriorityMedium, tree.Epics[1].Priority)
}

func TestStoreAppendDoesNotShift(t *testing.T) {
	ctx := context.Background()
	s := loadedStore(t, newFakeGateway())
	_, err := s.AddEpic(ctx, EpicInput{Title: "one"})
	require.NoError(t, err)
	appended, err := s.AddEpic(ctx, EpicInput{Title: "two", Position: intPtr(1)})
	require.NoError(t, err)

	tree := mustSnapshot(t, s)
	require.Equal(t, 0, tree.Epics[0].Position)
	require.Equal(t, 1, appended.Position)
}

func TestStoreFeatureAndTaskShiftOnInsert(t *testing.T) {
	ctx := context.Background()
	s := loadedStore(t, newFakeGateway())
	epic, err := s.AddEpic(ctx, EpicInput{Title: "epic"})
	require.NoError(t, err)

	first, err := s.AddFeature(ctx, epic.ID, FeatureInput{Title: "first"})
	require.NoError(t, err)
	require.Equal(t, "rm_1", first.RoadmapID)
	require.Equal(t, epic.ID, first.EpicID)
	_, err = s.AddFeature(ctx, epic.ID, FeatureInput{Title: "zeroth", Position: intPtr(0)})
	require.NoError(t, err)

	_, err = s.AddTask(ctx, first.ID, TaskInput{Title: "b"})
	require.NoError(t, err)
	_, err = s.AddTask(ctx, first.ID, TaskInput{Title: "a", Position: intPtr(0)})
	require.NoError(t, err)

	tree := mustSnapshot(t, s)
	features := tree.Epics[0].Features
	require.Equal(t, "zeroth", features[0].Title)
	require.Equal(t, "first", features[1].Title)
	require.Equal(t, 1, features[1].Position)
	tasks := features[1].Tasks
	require.Equal(t, "a", tasks[0].Title)
	require.Equal(t, []int{0, 1}, []int{tasks[0].Position, tasks[1].Position})
	require.Equal(t, TaskTodo, tasks[0].Status)
}

func TestStoreUpdatePreservesChildren(t *testing.T) {
	ctx := context.Background()
	s := loadedStore(t, newFakeGateway())
	epic, err := s.AddEpic(ctx, EpicInput{Title: "epic"})
	require.NoError(t, err)
	feature, err := s.AddFeature(ctx, epic.ID, FeatureInput{Title: "feature"})
	require.NoError(t, err)
	for _, title := range []string{"t1", "t2", "t3"} {
		_, err := s.AddTask(ctx, feature.ID, TaskInput{Title: title})
		require.NoError(t, err)
	}

	feature.Title = "renamed"
	feature.Status = FeatureInProgress
	feature.Tasks = nil
	updated, err := s.UpdateFeature(ctx, feature)
	require.NoError(t, err)
	require.Len(t, updated.Tasks, 3)

	epic.Title = "renamed epic"
	epic.Features = nil
	_, err = s.UpdateEpic(ctx, epic)
	require.NoError(t, err)

	tree := mustSnapshot(t, s)
	require.Equal(t, "renamed epic", tree.Epics[0].Title)
	require.Len(t, tree.Epics[0].Features, 1)
	got := tree.Epics[0].Features[0]
	require.Equal(t, "renamed", got.Title)
	require.Equal(t, FeatureInProgress, got.Status)
	require.Equal(t, []string{"t1", "t2", "t3"}, []string{got.Tasks[0].Title, got.Tasks[1].Title, got.Tasks[2].Title})
}

func TestStoreDeleteCompactsAndUnlinksMilestones(t *testing.T) {
	ctx := context.Background()
	s := loadedStore(t, newFakeGateway())
	epic, err := s.AddEpic(ctx, EpicInput{Title: "epic"})
	require.NoError(t, err)
	var ids []string
	for _, title := range []string{"a", "b", "c"} {
		f, err := s.AddFeature(ctx, epic.ID, FeatureInput{Title: title, IsDeliverable: true})
		require.NoError(t, err)
		ids = append(ids, f.ID)
	}
	milestone, err := s.AddMilestone(ctx, MilestoneInput{Title: "beta", FeatureIDs: ids})
	require.NoError(t, err)
	require.Equal(t, MilestoneNotStarted, milestone.Status)

	require.NoError(t, s.DeleteFeature(ctx, ids[0]))

	tree := mustSnapshot(t, s)
	features := tree.Epics[0].Features
	require.Len(t, features, 2)
	require.Equal(t, []int{0, 1}, []int{features[0].Position, features[1].Position})
	require.Equal(t, ids[1:], tree.Milestones[0].FeatureIDs)

	require.NoError(t, s.DeleteEpic(ctx, epic.ID))
	tree = mustSnapshot(t, s)
	require.Empty(t, tree.Epics)
	require.Empty(t, tree.Milestones[0].FeatureIDs)

	require.NoError(t, s.DeleteMilestone(ctx, milestone.ID))
	require.Empty(t, mustSnapshot(t, s).Milestones)
}

func TestStoreDeleteTask(t *testing.T) {
	ctx := context.Background()
	s := loadedStore(t, newFakeGateway())
	epic, _ := s.AddEpic(ctx, EpicInput{Title: "epic"})
	feature, _ := s.AddFeature(ctx, epic.ID, FeatureInput{Title: "feature"})
	first, err := s.AddTask(ctx, feature.ID, TaskInput{Title: "first"})
	require.NoError(t, err)
	_, err = s.AddTask(ctx, feature.ID, TaskInput{Title: "second"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteTask(ctx, first.ID))
	tasks := mustSnapshot(t, s).Epics[0].Features[0].Tasks
	require.Len(t, tasks, 1)
	require.Equal(t, "second", tasks[0].Title)
	require.Equal(t, 0, tasks[0].Position)

	require.ErrorIs(t, s.DeleteTask(ctx, first.ID), ErrNotFound)
}

func TestStoreGatewayFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	s := loadedStore(t, gw)
	epic, err := s.AddEpic(ctx, EpicInput{Title: "epic"})
	require.NoError(t, err)
	before := mustSnapshot(t, s)

	boom := errors.New("gateway unavailable")
	gw.failAll = boom

	_, err = s.AddEpic(ctx, EpicInput{Title: "lost", Position: intPtr(0)})
	require.ErrorIs(t, err, boom)
	epic.Title = "lost rename"
	_, err = s.UpdateEpic(ctx, epic)
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, s.DeleteEpic(ctx, epic.ID), boom)

	require.Equal(t, before, mustSnapshot(t, s))
	require.False(t, s.InFlight(KindEpic))
}

func TestStoreValidationRejectsBeforeNetwork(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	s := loadedStore(t, gw)
	calls := gw.calls

	cases := []struct {
		name string
		run  func() error
	}{
		{"empty epic title", func() error { _, err := s.AddEpic(ctx, EpicInput{Title: "  "}); return err }},
		{"unknown priority", func() error {
			_, err := s.AddEpic(ctx, EpicInput{Title: "x", Priority: "urgent"})
			return err
		}},
		{"negative position", func() error {
			_, err := s.AddMilestone(ctx, MilestoneInput{Title: "x", Position: intPtr(-1)})
			return err
		}},
		{"unknown task status", func() error {
			_, err := s.AddTask(ctx, "ft_1", TaskInput{Title: "x", Status: "finished"})
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var verr *ValidationError
			require.ErrorAs(t, tc.run(), &verr)
		})
	}
	require.Equal(t, calls, gw.calls)
}

func TestStoreViewerCannotWrite(t *testing.T) {
	ctx := context.Background()
	for _, role := range []rbac.Role{rbac.RoleViewer, rbac.RoleCommenter} {
		gw := newFakeGateway()
		s := loadedStore(t, gw, WithRole(role))
		calls := gw.calls

		_, err := s.AddEpic(ctx, EpicInput{Title: "nope"})
		require.ErrorIs(t, err, ErrForbidden)
		require.Equal(t, calls, gw.calls)
		_, err = s.Snapshot()
		require.NoError(t, err, "reads stay open for %s", role)
	}
}

func TestStoreWritesFailDuringReload(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	s := loadedStore(t, gw)

	entered := make(chan struct{})
	release := make(chan struct{})
	gw.loadFn = func(ctx context.Context, roadmapID string) (Tree, error) {
		close(entered)
		<-release
		return gw.tree.Clone(), nil
	}

	done := make(chan error, 1)
	go func() { done <- s.Load(ctx, "rm_1") }()
	<-entered

	require.True(t, s.InFlight(KindRoadmap))
	_, err := s.AddEpic(ctx, EpicInput{Title: "mid-flight"})
	require.ErrorIs(t, err, ErrReloading)

	close(release)
	require.NoError(t, <-done)
	_, err = s.AddEpic(ctx, EpicInput{Title: "after"})
	require.NoError(t, err)
}

func TestStoreInFlightPerKind(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	s := loadedStore(t, gw)
	epic, err := s.AddEpic(ctx, EpicInput{Title: "epic"})
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	gw.epicFn = func(ctx context.Context, roadmapID string, in EpicInput) (Epic, error) {
		close(entered)
		<-release
		return Epic{ID: "ep_slow", RoadmapID: roadmapID, Title: in.Title, Status: in.Status, Priority: in.Priority, Position: 1}, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.AddEpic(ctx, EpicInput{Title: "slow"})
		done <- err
	}()
	<-entered

	require.True(t, s.InFlight(KindEpic))
	require.False(t, s.InFlight(KindFeature))
	_, err = s.AddFeature(ctx, epic.ID, FeatureInput{Title: "runs alongside"})
	require.NoError(t, err)

	close(release)
	require.NoError(t, <-done)
	require.False(t, s.InFlight(KindEpic))
	require.Len(t, mustSnapshot(t, s).Epics, 2)
}

func TestStoreConcurrentInsertsKeepPositionsUnique(t *testing.T) {
	ctx := context.Background()
	s := loadedStore(t, newFakeGateway())

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.AddEpic(ctx, EpicInput{Title: fmt.Sprintf("epic %d", i), Position: intPtr(0)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	tree := mustSnapshot(t, s)
	require.Len(t, tree.Epics, 20)
	require.True(t, PositionsValid(epicPositions(tree.Epics)))
}

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	gw := newFakeGateway()
	s := NewStore(gw)

	_, err := s.Snapshot()
	require.ErrorIs(t, err, ErrNotLoaded)
	_, err = s.AddEpic(ctx, EpicInput{Title: "early"})
	require.ErrorIs(t, err, ErrNotLoaded)

	require.ErrorIs(t, s.Load(ctx, "rm_missing"), ErrNotFound)
	require.False(t, s.Loaded())

	require.NoError(t, s.Load(ctx, "rm_1"))
	updated, err := s.UpdateRoadmap(ctx, RoadmapInput{Name: "Relaunch", Status: RoadmapPaused})
	require.NoError(t, err)
	require.Equal(t, "Relaunch", updated.Name)
	require.Equal(t, "Relaunch", mustSnapshot(t, s).Roadmap.Name)

	s.Close()
	_, err = s.Snapshot()
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, s.Load(ctx, "rm_1"), ErrClosed)
	_, err = s.AddEpic(ctx, EpicInput{Title: "late"})
	require.ErrorIs(t, err, ErrClosed)
}

func TestSnapshotIsIsolated(t *testing.T) {
	ctx := context.Background()
	s := loadedStore(t, newFakeGateway())
	epic, err := s.AddEpic(ctx, EpicInput{Title: "epic"})
	require.NoError(t, err)
	_, err = s.AddFeature(ctx, epic.ID, FeatureInput{Title: "feature"})
	require.NoError(t, err)

	snap := mustSnapshot(t, s)
	snap.Epics[0].Features[0].Title = "scribbled"
	require.Equal(t, "feature", mustSnapshot(t, s).Epics[0].Features[0].Title)
}
