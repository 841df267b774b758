package roadmap

type Progress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Percent   int `json:"percent"`
}

func newProgress(total, completed int) Progress {
	p := Progress{Total: total, Completed: completed}
	if total > 0 {
		p.Percent = completed * 100 / total
	}
	return p
}

// MilestoneProgress counts the deliverable features linked to m. Features
// that are not deliverable never contribute, even when linked.
func MilestoneProgress(m Milestone, features []Feature) Progress {
	linked := make(map[string]struct{}, len(m.FeatureIDs))
	for _, id := range m.FeatureIDs {
		linked[id] = struct{}{}
	}
	total, completed := 0, 0
	for _, f := range features {
		if _, ok := linked[f.ID]; !ok || !f.IsDeliverable {
			continue
		}
		total++
		if f.Status == FeatureCompleted {
			completed++
		}
	}
	return newProgress(total, completed)
}

// Progress reports milestone progress against the tree's features.
func (t *Tree) Progress(milestoneID string) (Progress, error) {
	i := t.FindMilestone(milestoneID)
	if i < 0 {
		return Progress{}, ErrNotFound
	}
	return MilestoneProgress(t.Milestones[i], t.Features()), nil
}

func EpicProgress(epic Epic) Progress {
	completed := 0
	for _, f := range epic.Features {
		if f.Status == FeatureCompleted {
			completed++
		}
	}
	return newProgress(len(epic.Features), completed)
}
