package theme

import (
	"github.com/samber/lo"

	"countdown/internal/model"
)

const (
	colorPassed   = "#6c757d"
	colorToday    = "#dc3545"
	colorSoon     = "#fd7e14"
	colorThisWeek = "#ffc107"
)

var priorityColors = map[model.Priority]string{
	model.PriorityLow:      "#28a745",
	model.PriorityMedium:   "#ffc107",
	model.PriorityHigh:     "#fd7e14",
	model.PriorityCritical: "#dc3545",
	model.PriorityUrgent:   "#6f42c1",
}

// PriorityInfo describes one priority level for pickers.
type PriorityInfo struct {
	Level model.Priority `json:"level"`
	Name  string         `json:"name"`
	Color string         `json:"color"`
}

// PriorityColor returns the display color of p; out-of-range values use Low.
func PriorityColor(p model.Priority) string {
	if c, ok := priorityColors[p]; ok {
		return c
	}
	return priorityColors[model.PriorityLow]
}

// DaysRemainingColor picks the urgency color for an event days away. Within
// a week the urgency scale wins over the priority color.
func DaysRemainingColor(days int, p model.Priority) string {
	switch {
	case days < 0:
		return colorPassed
	case days == 0:
		return colorToday
	case days <= 3:
		return colorSoon
	case days <= 7:
		return colorThisWeek
	default:
		return PriorityColor(p)
	}
}

// Priorities lists every level, lowest first.
func Priorities() []PriorityInfo {
	return lo.Map(model.Priorities, func(p model.Priority, _ int) PriorityInfo {
		return PriorityInfo{Level: p, Name: p.String(), Color: PriorityColor(p)}
	})
}
