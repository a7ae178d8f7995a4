package notify

import (
	"fmt"

	"countdown/internal/model"
)

// Compose returns the title and body shown for a trigger.
func Compose(tr model.Trigger) (title, message string) {
	switch tr.Kind {
	case model.TriggerDueToday:
		return "Event Today!", fmt.Sprintf("Today is %s!", tr.EventName)
	case model.TriggerPassed:
		return "Event Completed", fmt.Sprintf("%s was yesterday. Hope it went well!", tr.EventName)
	}

	title = "Countdown Reminder: " + tr.EventName
	switch tr.DaysRemaining {
	case 0:
		message = fmt.Sprintf("Today is %s!", tr.EventName)
	case 1:
		message = fmt.Sprintf("Tomorrow is %s!", tr.EventName)
	default:
		message = fmt.Sprintf("%d days remaining until %s!", tr.DaysRemaining, tr.EventName)
	}
	return title, message
}
