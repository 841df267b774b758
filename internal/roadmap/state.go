package roadmap

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"prdigy/api/internal/rbac"
)

// Gateway is the authoritative remote side of the store. Every mutation is
// confirmed here before the local tree changes.
type Gateway interface {
	GetRoadmapTree(ctx context.Context, roadmapID string) (Tree, error)
	UpdateRoadmap(ctx context.Context, roadmapID string, in RoadmapInput) (Roadmap, error)

	CreateMilestone(ctx context.Context, roadmapID string, in MilestoneInput) (Milestone, error)
	UpdateMilestone(ctx context.Context, m Milestone) (Milestone, error)
	DeleteMilestone(ctx context.Context, milestoneID string) error

	CreateEpic(ctx context.Context, roadmapID string, in EpicInput) (Epic, error)
	UpdateEpic(ctx context.Context, e Epic) (Epic, error)
	DeleteEpic(ctx context.Context, epicID string) error

	CreateFeature(ctx context.Context, epicID string, in FeatureInput) (Feature, error)
	UpdateFeature(ctx context.Context, f Feature) (Feature, error)
	DeleteFeature(ctx context.Context, featureID string) error

	CreateTask(ctx context.Context, featureID string, in TaskInput) (Task, error)
	UpdateTask(ctx context.Context, t Task) (Task, error)
	DeleteTask(ctx context.Context, taskID string) error
}

type Option func(*Store)

// WithRole sets the caller's role on the loaded roadmap. Writes need a role
// that can rbac.ActionWrite.
func WithRole(role rbac.Role) Option {
	return func(s *Store) { s.role = role }
}

func WithLogger(logger *log.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Store keeps one roadmap tree in memory. Create it with NewStore, fill it
// with Load, mutate it through its methods and Close it when done.
type Store struct {
	gw     Gateway
	role   rbac.Role
	logger *log.Logger

	// ops is held shared by mutations and exclusively by Load.
	ops sync.RWMutex

	mu        sync.RWMutex
	tree      Tree
	loaded    bool
	closed    bool
	reloading int

	scopeMu sync.Mutex
	scopes  map[string]*sync.Mutex

	inflight map[Kind]*atomic.Int32
}

func NewStore(gw Gateway, opts ...Option) *Store {
	s := &Store{
		gw:     gw,
		role:   rbac.RoleEditor,
		logger: log.Default().WithPrefix("roadmap"),
		scopes: make(map[string]*sync.Mutex),
		inflight: map[Kind]*atomic.Int32{
			KindRoadmap:   new(atomic.Int32),
			KindMilestone: new(atomic.Int32),
			KindEpic:      new(atomic.Int32),
			KindFeature:   new(atomic.Int32),
			KindTask:      new(atomic.Int32),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Role() rbac.Role { return s.role }

// InFlight reports whether a gateway call for kind is outstanding.
func (s *Store) InFlight(kind Kind) bool {
	counter, ok := s.inflight[kind]
	return ok && counter.Load() > 0
}

func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Snapshot returns a deep copy of the current tree.
func (s *Store) Snapshot() (Tree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Tree{}, ErrClosed
	}
	if !s.loaded {
		return Tree{}, ErrNotLoaded
	}
	return s.tree.Clone(), nil
}

// Close releases the tree. Every later call fails with ErrClosed.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.loaded = false
	s.tree = Tree{}
}

// Load replaces the local tree with the server's. Writes issued while a load
// is running fail with ErrReloading; concurrent loads run one after another.
func (s *Store) Load(ctx context.Context, roadmapID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.reloading++
	s.mu.Unlock()

	s.ops.Lock()
	defer s.ops.Unlock()
	defer func() {
		s.mu.Lock()
		s.reloading--
		s.mu.Unlock()
	}()

	counter := s.inflight[KindRoadmap]
	counter.Add(1)
	tree, err := s.gw.GetRoadmapTree(ctx, roadmapID)
	counter.Add(-1)
	if err != nil {
		return fmt.Errorf("load roadmap %s: %w", roadmapID, err)
	}
	tree = Normalize(tree)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.tree = tree
	s.loaded = true
	s.logger.Debug("roadmap loaded", "roadmap_id", roadmapID, "milestones", len(tree.Milestones), "epics", len(tree.Epics))
	return nil
}

// writable checks the gates every mutation passes before touching the network.
func (s *Store) writable() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gateLocked()
}

func (s *Store) gateLocked() error {
	switch {
	case s.closed:
		return ErrClosed
	case s.reloading > 0:
		return ErrReloading
	case !s.loaded:
		return ErrNotLoaded
	case !rbac.Can(s.role, rbac.ActionWrite):
		return ErrForbidden
	}
	return nil
}

// locate checks the write gates and runs fn against the current tree under
// the read lock.
func (s *Store) locate(fn func(t *Tree) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.gateLocked(); err != nil {
		return err
	}
	return fn(&s.tree)
}

func (s *Store) scope(key string) *sync.Mutex {
	s.scopeMu.Lock()
	defer s.scopeMu.Unlock()
	m, ok := s.scopes[key]
	if !ok {
		m = &sync.Mutex{}
		s.scopes[key] = m
	}
	return m
}

// mutate serializes on the sibling scope, performs the remote call and then
// applies the local patch. apply must not modify the tree before it is sure
// it will succeed.
func (s *Store) mutate(ctx context.Context, kind Kind, scope string, call func(context.Context) error, apply func(*Tree) error) error {
	s.ops.RLock()
	defer s.ops.RUnlock()
	if err := s.writable(); err != nil {
		return err
	}

	lock := s.scope(scope)
	lock.Lock()
	defer lock.Unlock()

	counter := s.inflight[kind]
	counter.Add(1)
	err := call(ctx)
	counter.Add(-1)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return apply(&s.tree)
}

func milestoneScope(roadmapID string) string { return "milestones:" + roadmapID }
func epicScope(roadmapID string) string      { return "epics:" + roadmapID }
func featureScope(epicID string) string      { return "features:" + epicID }
func taskScope(featureID string) string      { return "tasks:" + featureID }

func (s *Store) currentRoadmapID() (string, error) {
	var id string
	err := s.locate(func(t *Tree) error {
		id = t.Roadmap.ID
		return nil
	})
	return id, err
}

func (s *Store) UpdateRoadmap(ctx context.Context, in RoadmapInput) (Roadmap, error) {
	if err := ValidateRoadmap(&in); err != nil {
		return Roadmap{}, err
	}
	roadmapID, err := s.currentRoadmapID()
	if err != nil {
		return Roadmap{}, err
	}
	var updated Roadmap
	err = s.mutate(ctx, KindRoadmap, "roadmap:"+roadmapID, func(ctx context.Context) error {
		var err error
		updated, err = s.gw.UpdateRoadmap(ctx, roadmapID, in)
		if err != nil {
			return fmt.Errorf("update roadmap: %w", err)
		}
		return nil
	}, func(t *Tree) error {
		t.Roadmap = updated
		return nil
	})
	return updated, err
}

func (s *Store) AddMilestone(ctx context.Context, in MilestoneInput) (Milestone, error) {
	if err := ValidateMilestone(&in); err != nil {
		return Milestone{}, err
	}
	roadmapID, err := s.currentRoadmapID()
	if err != nil {
		return Milestone{}, err
	}
	var created Milestone
	err = s.mutate(ctx, KindMilestone, milestoneScope(roadmapID), func(ctx context.Context) error {
		var err error
		created, err = s.gw.CreateMilestone(ctx, roadmapID, in)
		if err != nil {
			return fmt.Errorf("create milestone: %w", err)
		}
		return nil
	}, func(t *Tree) error {
		created.RoadmapID = roadmapID
		if created.FeatureIDs == nil {
			created.FeatureIDs = []string{}
		}
		t.Milestones = insertAt(t.Milestones, created, created.Position)
		created = t.Milestones[t.FindMilestone(created.ID)]
		return nil
	})
	return created, err
}

func (s *Store) UpdateMilestone(ctx context.Context, m Milestone) (Milestone, error) {
	if err := validateMilestoneUpdate(m); err != nil {
		return Milestone{}, err
	}
	var current Milestone
	if err := s.locate(func(t *Tree) error {
		i := t.FindMilestone(m.ID)
		if i < 0 {
			return ErrNotFound
		}
		current = t.Milestones[i]
		return nil
	}); err != nil {
		return Milestone{}, err
	}

	var updated Milestone
	err := s.mutate(ctx, KindMilestone, milestoneScope(current.RoadmapID), func(ctx context.Context) error {
		var err error
		updated, err = s.gw.UpdateMilestone(ctx, m)
		if err != nil {
			return fmt.Errorf("update milestone %s: %w", m.ID, err)
		}
		return nil
	}, func(t *Tree) error {
		updated.RoadmapID = current.RoadmapID
		updated.Position = current.Position
		if updated.FeatureIDs == nil {
			updated.FeatureIDs = []string{}
		}
		next, ok := replaceByID(t.Milestones, updated)
		if !ok {
			return ErrNotFound
		}
		t.Milestones = next
		return nil
	})
	return updated, err
}

func (s *Store) DeleteMilestone(ctx context.Context, milestoneID string) error {
	var roadmapID string
	if err := s.locate(func(t *Tree) error {
		i := t.FindMilestone(milestoneID)
		if i < 0 {
			return ErrNotFound
		}
		roadmapID = t.Milestones[i].RoadmapID
		return nil
	}); err != nil {
		return err
	}
	return s.mutate(ctx, KindMilestone, milestoneScope(roadmapID), func(ctx context.Context) error {
		if err := s.gw.DeleteMilestone(ctx, milestoneID); err != nil {
			return fmt.Errorf("delete milestone %s: %w", milestoneID, err)
		}
		return nil
	}, func(t *Tree) error {
		t.Milestones, _ = removeAt(t.Milestones, milestoneID)
		return nil
	})
}

func (s *Store) AddEpic(ctx context.Context, in EpicInput) (Epic, error) {
	if err := ValidateEpic(&in); err != nil {
		return Epic{}, err
	}
	roadmapID, err := s.currentRoadmapID()
	if err != nil {
		return Epic{}, err
	}
	var created Epic
	err = s.mutate(ctx, KindEpic, epicScope(roadmapID), func(ctx context.Context) error {
		var err error
		created, err = s.gw.CreateEpic(ctx, roadmapID, in)
		if err != nil {
			return fmt.Errorf("create epic: %w", err)
		}
		return nil
	}, func(t *Tree) error {
		created.RoadmapID = roadmapID
		if created.Features == nil {
			created.Features = []Feature{}
		}
		t.Epics = insertAt(t.Epics, created, created.Position)
		created = t.Epics[t.FindEpic(created.ID)]
		return nil
	})
	return created, err
}

// UpdateEpic sends the epic's mutable fields. The loaded features, position
// and roadmap of the epic are kept.
func (s *Store) UpdateEpic(ctx context.Context, e Epic) (Epic, error) {
	if err := validateEpicUpdate(e); err != nil {
		return Epic{}, err
	}
	var current Epic
	if err := s.locate(func(t *Tree) error {
		i := t.FindEpic(e.ID)
		if i < 0 {
			return ErrNotFound
		}
		current = t.Epics[i]
		return nil
	}); err != nil {
		return Epic{}, err
	}

	var updated Epic
	err := s.mutate(ctx, KindEpic, epicScope(current.RoadmapID), func(ctx context.Context) error {
		var err error
		updated, err = s.gw.UpdateEpic(ctx, e)
		if err != nil {
			return fmt.Errorf("update epic %s: %w", e.ID, err)
		}
		return nil
	}, func(t *Tree) error {
		i := t.FindEpic(e.ID)
		if i < 0 {
			return ErrNotFound
		}
		updated.RoadmapID = t.Epics[i].RoadmapID
		updated.Position = t.Epics[i].Position
		updated.Features = t.Epics[i].Features
		t.Epics, _ = replaceByID(t.Epics, updated)
		return nil
	})
	return updated, err
}

// DeleteEpic removes the epic with its features and unlinks those features
// from every milestone.
func (s *Store) DeleteEpic(ctx context.Context, epicID string) error {
	var roadmapID string
	if err := s.locate(func(t *Tree) error {
		i := t.FindEpic(epicID)
		if i < 0 {
			return ErrNotFound
		}
		roadmapID = t.Epics[i].RoadmapID
		return nil
	}); err != nil {
		return err
	}
	return s.mutate(ctx, KindEpic, epicScope(roadmapID), func(ctx context.Context) error {
		if err := s.gw.DeleteEpic(ctx, epicID); err != nil {
			return fmt.Errorf("delete epic %s: %w", epicID, err)
		}
		return nil
	}, func(t *Tree) error {
		i := t.FindEpic(epicID)
		if i < 0 {
			return nil
		}
		gone := make(map[string]struct{}, len(t.Epics[i].Features))
		for _, f := range t.Epics[i].Features {
			gone[f.ID] = struct{}{}
		}
		t.Epics, _ = removeAt(t.Epics, epicID)
		t.Milestones = unlinkFeatures(t.Milestones, gone)
		return nil
	})
}

func (s *Store) AddFeature(ctx context.Context, epicID string, in FeatureInput) (Feature, error) {
	if err := ValidateFeature(&in); err != nil {
		return Feature{}, err
	}
	var roadmapID string
	if err := s.locate(func(t *Tree) error {
		i := t.FindEpic(epicID)
		if i < 0 {
			return fmt.Errorf("epic %s: %w", epicID, ErrNotFound)
		}
		roadmapID = t.Epics[i].RoadmapID
		return nil
	}); err != nil {
		return Feature{}, err
	}

	var created Feature
	err := s.mutate(ctx, KindFeature, featureScope(epicID), func(ctx context.Context) error {
		var err error
		created, err = s.gw.CreateFeature(ctx, epicID, in)
		if err != nil {
			return fmt.Errorf("create feature: %w", err)
		}
		return nil
	}, func(t *Tree) error {
		i := t.FindEpic(epicID)
		if i < 0 {
			return fmt.Errorf("epic %s: %w", epicID, ErrNotFound)
		}
		created.EpicID = epicID
		created.RoadmapID = roadmapID
		if created.Tasks == nil {
			created.Tasks = []Task{}
		}
		features := insertAt(t.Epics[i].Features, created, created.Position)
		for _, f := range features {
			if f.ID == created.ID {
				created = f
			}
		}
		t.Epics[i].Features = features
		return nil
	})
	return created, err
}

// UpdateFeature keeps the loaded tasks, position and parent of the feature.
func (s *Store) UpdateFeature(ctx context.Context, f Feature) (Feature, error) {
	if err := validateFeatureUpdate(f); err != nil {
		return Feature{}, err
	}
	var epicID string
	if err := s.locate(func(t *Tree) error {
		i, _ := t.FindFeature(f.ID)
		if i < 0 {
			return ErrNotFound
		}
		epicID = t.Epics[i].ID
		return nil
	}); err != nil {
		return Feature{}, err
	}

	var updated Feature
	err := s.mutate(ctx, KindFeature, featureScope(epicID), func(ctx context.Context) error {
		var err error
		updated, err = s.gw.UpdateFeature(ctx, f)
		if err != nil {
			return fmt.Errorf("update feature %s: %w", f.ID, err)
		}
		return nil
	}, func(t *Tree) error {
		i, j := t.FindFeature(f.ID)
		if i < 0 {
			return ErrNotFound
		}
		current := t.Epics[i].Features[j]
		updated.EpicID = current.EpicID
		updated.RoadmapID = current.RoadmapID
		updated.Position = current.Position
		updated.Tasks = current.Tasks
		t.Epics[i].Features, _ = replaceByID(t.Epics[i].Features, updated)
		return nil
	})
	return updated, err
}

func (s *Store) DeleteFeature(ctx context.Context, featureID string) error {
	var epicID string
	if err := s.locate(func(t *Tree) error {
		i, _ := t.FindFeature(featureID)
		if i < 0 {
			return ErrNotFound
		}
		epicID = t.Epics[i].ID
		return nil
	}); err != nil {
		return err
	}
	return s.mutate(ctx, KindFeature, featureScope(epicID), func(ctx context.Context) error {
		if err := s.gw.DeleteFeature(ctx, featureID); err != nil {
			return fmt.Errorf("delete feature %s: %w", featureID, err)
		}
		return nil
	}, func(t *Tree) error {
		i := t.FindEpic(epicID)
		if i < 0 {
			return nil
		}
		t.Epics[i].Features, _ = removeAt(t.Epics[i].Features, featureID)
		t.Milestones = unlinkFeatures(t.Milestones, map[string]struct{}{featureID: {}})
		return nil
	})
}

func (s *Store) AddTask(ctx context.Context, featureID string, in TaskInput) (Task, error) {
	if err := ValidateTask(&in); err != nil {
		return Task{}, err
	}
	if err := s.locate(func(t *Tree) error {
		if i, _ := t.FindFeature(featureID); i < 0 {
			return fmt.Errorf("feature %s: %w", featureID, ErrNotFound)
		}
		return nil
	}); err != nil {
		return Task{}, err
	}

	var created Task
	err := s.mutate(ctx, KindTask, taskScope(featureID), func(ctx context.Context) error {
		var err error
		created, err = s.gw.CreateTask(ctx, featureID, in)
		if err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		return nil
	}, func(t *Tree) error {
		i, j := t.FindFeature(featureID)
		if i < 0 {
			return fmt.Errorf("feature %s: %w", featureID, ErrNotFound)
		}
		created.FeatureID = featureID
		if created.Checklist == nil {
			created.Checklist = []ChecklistItem{}
		}
		tasks := insertAt(t.Epics[i].Features[j].Tasks, created, created.Position)
		for _, task := range tasks {
			if task.ID == created.ID {
				created = task
			}
		}
		t.Epics[i].Features[j].Tasks = tasks
		return nil
	})
	return created, err
}

func (s *Store) UpdateTask(ctx context.Context, task Task) (Task, error) {
	if err := validateTaskUpdate(task); err != nil {
		return Task{}, err
	}
	var featureID string
	if err := s.locate(func(t *Tree) error {
		i, j, _ := t.FindTask(task.ID)
		if i < 0 {
			return ErrNotFound
		}
		featureID = t.Epics[i].Features[j].ID
		return nil
	}); err != nil {
		return Task{}, err
	}

	var updated Task
	err := s.mutate(ctx, KindTask, taskScope(featureID), func(ctx context.Context) error {
		var err error
		updated, err = s.gw.UpdateTask(ctx, task)
		if err != nil {
			return fmt.Errorf("update task %s: %w", task.ID, err)
		}
		return nil
	}, func(t *Tree) error {
		i, j, k := t.FindTask(task.ID)
		if i < 0 {
			return ErrNotFound
		}
		current := t.Epics[i].Features[j].Tasks[k]
		updated.FeatureID = current.FeatureID
		updated.Position = current.Position
		if updated.Checklist == nil {
			updated.Checklist = []ChecklistItem{}
		}
		t.Epics[i].Features[j].Tasks, _ = replaceByID(t.Epics[i].Features[j].Tasks, updated)
		return nil
	})
	return updated, err
}

func (s *Store) DeleteTask(ctx context.Context, taskID string) error {
	var featureID string
	if err := s.locate(func(t *Tree) error {
		i, j, _ := t.FindTask(taskID)
		if i < 0 {
			return ErrNotFound
		}
		featureID = t.Epics[i].Features[j].ID
		return nil
	}); err != nil {
		return err
	}
	return s.mutate(ctx, KindTask, taskScope(featureID), func(ctx context.Context) error {
		if err := s.gw.DeleteTask(ctx, taskID); err != nil {
			return fmt.Errorf("delete task %s: %w", taskID, err)
		}
		return nil
	}, func(t *Tree) error {
		i, j := t.FindFeature(featureID)
		if i < 0 {
			return nil
		}
		t.Epics[i].Features[j].Tasks, _ = removeAt(t.Epics[i].Features[j].Tasks, taskID)
		return nil
	})
}

func unlinkFeatures(milestones []Milestone, gone map[string]struct{}) []Milestone {
	if len(gone) == 0 {
		return milestones
	}
	out := make([]Milestone, len(milestones))
	for i, m := range milestones {
		ids := make([]string, 0, len(m.FeatureIDs))
		for _, id := range m.FeatureIDs {
			if _, ok := gone[id]; !ok {
				ids = append(ids, id)
			}
		}
		m.FeatureIDs = ids
		out[i] = m
	}
	return out
}
