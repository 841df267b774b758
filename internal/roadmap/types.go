// Package roadmap holds the roadmap entity model and the in-memory state store
// that keeps a loaded roadmap tree consistent with the server.
package roadmap

import "time"

type Kind string

const (
	KindRoadmap   Kind = "roadmap"
	KindMilestone Kind = "milestone"
	KindEpic      Kind = "epic"
	KindFeature   Kind = "feature"
	KindTask      Kind = "task"
)

type RoadmapStatus string

const (
	RoadmapDraft     RoadmapStatus = "draft"
	RoadmapActive    RoadmapStatus = "active"
	RoadmapPaused    RoadmapStatus = "paused"
	RoadmapCompleted RoadmapStatus = "completed"
	RoadmapArchived  RoadmapStatus = "archived"
)

type MilestoneStatus string

const (
	MilestoneNotStarted MilestoneStatus = "not_started"
	MilestoneInProgress MilestoneStatus = "in_progress"
	MilestoneAtRisk     MilestoneStatus = "at_risk"
	MilestoneCompleted  MilestoneStatus = "completed"
	MilestoneMissed     MilestoneStatus = "missed"
)

type EpicStatus string

const (
	EpicBacklog    EpicStatus = "backlog"
	EpicPlanned    EpicStatus = "planned"
	EpicInProgress EpicStatus = "in_progress"
	EpicInReview   EpicStatus = "in_review"
	EpicCompleted  EpicStatus = "completed"
	EpicOnHold     EpicStatus = "on_hold"
)

type FeatureStatus string

const (
	FeatureNotStarted FeatureStatus = "not_started"
	FeatureInProgress FeatureStatus = "in_progress"
	FeatureInReview   FeatureStatus = "in_review"
	FeatureCompleted  FeatureStatus = "completed"
	FeatureBlocked    FeatureStatus = "blocked"
)

type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskInReview   TaskStatus = "in_review"
	TaskDone       TaskStatus = "done"
	TaskBlocked    TaskStatus = "blocked"
)

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

type Roadmap struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	OwnerID     string         `json:"ownerId"`
	Status      RoadmapStatus  `json:"status"`
	ProjectID   *string        `json:"projectId,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

type Milestone struct {
	ID          string          `json:"id"`
	RoadmapID   string          `json:"roadmapId"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	TargetDate  *time.Time      `json:"targetDate,omitempty"`
	Status      MilestoneStatus `json:"status"`
	Position    int             `json:"position"`
	// FeatureIDs are the features whose completion drives this milestone.
	FeatureIDs []string `json:"featureIds"`
}

type Epic struct {
	ID          string     `json:"id"`
	RoadmapID   string     `json:"roadmapId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    Priority   `json:"priority"`
	Status      EpicStatus `json:"status"`
	Position    int        `json:"position"`
	Features    []Feature  `json:"features"`
}

type Feature struct {
	ID            string        `json:"id"`
	EpicID        string        `json:"epicId"`
	RoadmapID     string        `json:"roadmapId"`
	Title         string        `json:"title"`
	Description   string        `json:"description"`
	Status        FeatureStatus `json:"status"`
	Position      int           `json:"position"`
	IsDeliverable bool          `json:"isDeliverable"`
	Tasks         []Task        `json:"tasks"`
}

type ChecklistItem struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

type Task struct {
	ID          string          `json:"id"`
	FeatureID   string          `json:"featureId"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Status      TaskStatus      `json:"status"`
	Priority    Priority        `json:"priority"`
	Position    int             `json:"position"`
	AssigneeID  *string         `json:"assigneeId,omitempty"`
	DueDate     *time.Time      `json:"dueDate,omitempty"`
	Checklist   []ChecklistItem `json:"checklist"`
}

// Tree is the fully nested view of one roadmap.
type Tree struct {
	Roadmap    Roadmap     `json:"roadmap"`
	Milestones []Milestone `json:"milestones"`
	Epics      []Epic      `json:"epics"`
}

type RoadmapInput struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Status      RoadmapStatus  `json:"status"`
	ProjectID   *string        `json:"projectId,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type MilestoneInput struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	TargetDate  *time.Time      `json:"targetDate,omitempty"`
	Status      MilestoneStatus `json:"status"`
	FeatureIDs  []string        `json:"featureIds"`
	Position    *int            `json:"position,omitempty"`
}

type EpicInput struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    Priority   `json:"priority"`
	Status      EpicStatus `json:"status"`
	Position    *int       `json:"position,omitempty"`
}

type FeatureInput struct {
	Title         string        `json:"title"`
	Description   string        `json:"description"`
	Status        FeatureStatus `json:"status"`
	IsDeliverable bool          `json:"isDeliverable"`
	Position      *int          `json:"position,omitempty"`
}

type TaskInput struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Status      TaskStatus      `json:"status"`
	Priority    Priority        `json:"priority"`
	AssigneeID  *string         `json:"assigneeId,omitempty"`
	DueDate     *time.Time      `json:"dueDate,omitempty"`
	Checklist   []ChecklistItem `json:"checklist"`
	Position    *int            `json:"position,omitempty"`
}

// FindEpic returns the index of the epic with the given ID, or -1.
func (t *Tree) FindEpic(epicID string) int {
	for i := range t.Epics {
		if t.Epics[i].ID == epicID {
			return i
		}
	}
	return -1
}

// FindFeature returns the epic and feature indexes of featureID, or -1, -1.
func (t *Tree) FindFeature(featureID string) (int, int) {
	for i := range t.Epics {
		for j := range t.Epics[i].Features {
			if t.Epics[i].Features[j].ID == featureID {
				return i, j
			}
		}
	}
	return -1, -1
}

// FindTask returns the epic, feature and task indexes of taskID, or -1s.
func (t *Tree) FindTask(taskID string) (int, int, int) {
	for i := range t.Epics {
		for j := range t.Epics[i].Features {
			for k := range t.Epics[i].Features[j].Tasks {
				if t.Epics[i].Features[j].Tasks[k].ID == taskID {
					return i, j, k
				}
			}
		}
	}
	return -1, -1, -1
}

func (t *Tree) FindMilestone(milestoneID string) int {
	for i := range t.Milestones {
		if t.Milestones[i].ID == milestoneID {
			return i
		}
	}
	return -1
}

// Features flattens every feature of every epic in position order.
func (t *Tree) Features() []Feature {
	var out []Feature
	for _, epic := range t.Epics {
		out = append(out, epic.Features...)
	}
	return out
}

// Clone returns a deep copy so callers can read without racing the store.
func (t Tree) Clone() Tree {
	out := Tree{Roadmap: t.Roadmap}
	if t.Roadmap.Metadata != nil {
		out.Roadmap.Metadata = make(map[string]any, len(t.Roadmap.Metadata))
		for k, v := range t.Roadmap.Metadata {
			out.Roadmap.Metadata[k] = v
		}
	}
	out.Milestones = make([]Milestone, len(t.Milestones))
	for i, m := range t.Milestones {
		m.FeatureIDs = append([]string(nil), m.FeatureIDs...)
		out.Milestones[i] = m
	}
	out.Epics = make([]Epic, len(t.Epics))
	for i, epic := range t.Epics {
		out.Epics[i] = cloneEpic(epic)
	}
	return out
}

func cloneEpic(epic Epic) Epic {
	features := make([]Feature, len(epic.Features))
	for i, feature := range epic.Features {
		features[i] = cloneFeature(feature)
	}
	epic.Features = features
	return epic
}

func cloneFeature(feature Feature) Feature {
	tasks := make([]Task, len(feature.Tasks))
	for i, task := range feature.Tasks {
		task.Checklist = append([]ChecklistItem(nil), task.Checklist...)
		tasks[i] = task
	}
	feature.Tasks = tasks
	return feature
}
