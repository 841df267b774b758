package roadmap

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound  = errors.New("roadmap: not found")
	ErrNotLoaded = errors.New("roadmap: no roadmap loaded")
	ErrReloading = errors.New("roadmap: reload in progress")
	ErrClosed    = errors.New("roadmap: store closed")
	ErrForbidden = errors.New("roadmap: role does not allow structural changes")
)

// ValidationError is returned before any gateway call when input is rejected.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

var (
	roadmapStatuses   = map[RoadmapStatus]struct{}{RoadmapDraft: {}, RoadmapActive: {}, RoadmapPaused: {}, RoadmapCompleted: {}, RoadmapArchived: {}}
	milestoneStatuses = map[MilestoneStatus]struct{}{MilestoneNotStarted: {}, MilestoneInProgress: {}, MilestoneAtRisk: {}, MilestoneCompleted: {}, MilestoneMissed: {}}
	epicStatuses      = map[EpicStatus]struct{}{EpicBacklog: {}, EpicPlanned: {}, EpicInProgress: {}, EpicInReview: {}, EpicCompleted: {}, EpicOnHold: {}}
	featureStatuses   = map[FeatureStatus]struct{}{FeatureNotStarted: {}, FeatureInProgress: {}, FeatureInReview: {}, FeatureCompleted: {}, FeatureBlocked: {}}
	taskStatuses      = map[TaskStatus]struct{}{TaskTodo: {}, TaskInProgress: {}, TaskInReview: {}, TaskDone: {}, TaskBlocked: {}}
	priorities        = map[Priority]struct{}{PriorityLow: {}, PriorityMedium: {}, PriorityHigh: {}, PriorityCritical: {}}
)

func requireTitle(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return invalid(field, "is required")
	}
	return nil
}

func checkPosition(position *int) error {
	if position != nil && *position < 0 {
		return invalid("position", "must not be negative")
	}
	return nil
}

// ValidateRoadmap checks a roadmap header and fills in the default status.
func ValidateRoadmap(in *RoadmapInput) error {
	if err := requireTitle("name", in.Name); err != nil {
		return err
	}
	if in.Status == "" {
		in.Status = RoadmapDraft
	}
	if _, ok := roadmapStatuses[in.Status]; !ok {
		return invalid("status", string(in.Status))
	}
	return nil
}

func ValidateMilestone(in *MilestoneInput) error {
	if err := requireTitle("title", in.Title); err != nil {
		return err
	}
	if in.Status == "" {
		in.Status = MilestoneNotStarted
	}
	if _, ok := milestoneStatuses[in.Status]; !ok {
		return invalid("status", string(in.Status))
	}
	return checkPosition(in.Position)
}

func ValidateEpic(in *EpicInput) error {
	if err := requireTitle("title", in.Title); err != nil {
		return err
	}
	if in.Status == "" {
		in.Status = EpicBacklog
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if _, ok := epicStatuses[in.Status]; !ok {
		return invalid("status", string(in.Status))
	}
	if _, ok := priorities[in.Priority]; !ok {
		return invalid("priority", string(in.Priority))
	}
	return checkPosition(in.Position)
}

func ValidateFeature(in *FeatureInput) error {
	if err := requireTitle("title", in.Title); err != nil {
		return err
	}
	if in.Status == "" {
		in.Status = FeatureNotStarted
	}
	if _, ok := featureStatuses[in.Status]; !ok {
		return invalid("status", string(in.Status))
	}
	return checkPosition(in.Position)
}

func ValidateTask(in *TaskInput) error {
	if err := requireTitle("title", in.Title); err != nil {
		return err
	}
	if in.Status == "" {
		in.Status = TaskTodo
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if _, ok := taskStatuses[in.Status]; !ok {
		return invalid("status", string(in.Status))
	}
	if _, ok := priorities[in.Priority]; !ok {
		return invalid("priority", string(in.Priority))
	}
	return checkPosition(in.Position)
}

// Updates carry whole entities; these reuse the input rules on their mutable fields.

func validateMilestoneUpdate(m Milestone) error {
	in := MilestoneInput{Title: m.Title, Status: m.Status}
	if m.Status == "" {
		return invalid("status", "is required")
	}
	return ValidateMilestone(&in)
}

func validateEpicUpdate(e Epic) error {
	if e.Status == "" || e.Priority == "" {
		return invalid("status", "status and priority are required")
	}
	in := EpicInput{Title: e.Title, Status: e.Status, Priority: e.Priority}
	return ValidateEpic(&in)
}

func validateFeatureUpdate(f Feature) error {
	if f.Status == "" {
		return invalid("status", "is required")
	}
	in := FeatureInput{Title: f.Title, Status: f.Status}
	return ValidateFeature(&in)
}

func validateTaskUpdate(t Task) error {
	if t.Status == "" || t.Priority == "" {
		return invalid("status", "status and priority are required")
	}
	in := TaskInput{Title: t.Title, Status: t.Status, Priority: t.Priority}
	return ValidateTask(&in)
}
