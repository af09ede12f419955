package notifications

import (
	"fmt"
	"strings"
	"time"

	"github.com/greenhospital/reporting/internal/app/domain/entry"
	"github.com/greenhospital/reporting/internal/app/domain/hospital"
	"github.com/greenhospital/reporting/internal/app/domain/notification"
	"github.com/greenhospital/reporting/internal/app/domain/period"
	"github.com/greenhospital/reporting/internal/app/domain/support"
	"github.com/greenhospital/reporting/internal/app/services/submissions"
)

func monthLabel(m period.Month) string {
	return fmt.Sprintf("%s %d", m.Month, m.Year)
}

func submissionID(hospitalID string, m period.Month, st submissions.State) string {
	return fmt.Sprintf("submission-%s-%s-%s", hospitalID, m, st)
}

func dayCount(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}

// submissionNotice derives the caller's own submission notification for
// month m. e is nil when nothing has been saved yet.
func submissionNotice(sched submissions.Schedule, now time.Time, hospitalID string, m period.Month, e *entry.Entry) (notification.Notification, bool) {
	submitted := e != nil && e.Submitted
	ev := sched.Evaluate(m, now, submitted)
	n := notification.Notification{
		ID:         submissionID(hospitalID, m, ev.State),
		HospitalID: hospitalID,
	}
	switch ev.State {
	case submissions.StateSubmitted:
		n.Type = notification.TypeSuccess
		n.Title = "Monthly data submitted"
		n.Message = fmt.Sprintf("Your sustainability data for %s has been submitted.", monthLabel(m))
		n.CreatedAt = e.UpdatedAt
		if e.SubmittedAt != nil {
			n.CreatedAt = *e.SubmittedAt
		}
	case submissions.StateOverdue:
		n.Type = notification.TypeWarning
		n.Title = "Monthly submission overdue"
		n.Message = fmt.Sprintf("Data for %s was due on %s. Please submit as soon as possible.",
			monthLabel(m), ev.Deadline.AddDate(0, 0, -1).Format("2 January"))
		n.CreatedAt = ev.Deadline
	case submissions.StateDueSoon:
		n.Type = notification.TypeWarning
		n.Title = "Monthly submission due soon"
		n.Message = fmt.Sprintf("Data for %s is due in %s.", monthLabel(m), dayCount(ev.DaysRemaining))
		n.CreatedAt = sched.DueSoonFrom(m)
	default:
		return notification.Notification{}, false
	}
	return n, true
}

// isReminder reports whether a support message is a reminder notice.
func isReminder(m support.Message) bool {
	return strings.Contains(strings.ToLower(m.Subject), "reminder") ||
		strings.Contains(strings.ToLower(m.Message), "reminder")
}

func hasResponse(m support.Message) bool {
	return m.AdminResponse != nil && strings.TrimSpace(*m.AdminResponse) != ""
}

// supportNotice turns one of the caller's support messages into a
// notification. Pending messages without a response produce nothing.
func supportNotice(m support.Message) (notification.Notification, bool) {
	n := notification.Notification{
		ID:         "support-" + m.ID,
		HospitalID: m.HospitalID,
		CreatedAt:  m.UpdatedAt,
	}
	switch {
	case isReminder(m):
		n.Type = notification.TypeReminder
		n.Title = m.Subject
		n.Message = m.Message
		n.CreatedAt = m.CreatedAt
	case m.Status.Done() && hasResponse(m):
		n.Type = notification.TypeSuccess
		n.Title = "Support request resolved"
		n.Message = fmt.Sprintf("%s: %s", m.Subject, *m.AdminResponse)
	case hasResponse(m):
		n.Type = notification.TypeInfo
		n.Title = "Support request updated"
		n.Message = fmt.Sprintf("%s: %s", m.Subject, *m.AdminResponse)
	default:
		return notification.Notification{}, false
	}
	return n, true
}

// adminNotices derives the all-hospitals view for month m: a warning per
// hospital that is due soon or overdue, one summary, and one notice per
// pending support request.
func adminNotices(sched submissions.Schedule, now time.Time, m period.Month, hospitals []hospital.Hospital, entries []entry.Entry, pending []support.Message) []notification.Notification {
	submitted := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.Submitted {
			submitted[e.HospitalID] = true
		}
	}

	out := make([]notification.Notification, 0, len(hospitals)+len(pending)+1)
	count := 0
	for _, h := range hospitals {
		if submitted[h.ID] {
			count++
			continue
		}
		ev := sched.Evaluate(m, now, false)
		n := notification.Notification{
			ID:         submissionID(h.ID, m, ev.State),
			Type:       notification.TypeWarning,
			HospitalID: h.ID,
		}
		switch ev.State {
		case submissions.StateOverdue:
			n.Title = "Hospital submission overdue"
			n.Message = fmt.Sprintf("%s has not submitted data for %s.", h.Name, monthLabel(m))
			n.CreatedAt = ev.Deadline
		case submissions.StateDueSoon:
			n.Title = "Hospital submission due soon"
			n.Message = fmt.Sprintf("%s has not yet submitted data for %s, due in %s.", h.Name, monthLabel(m), dayCount(ev.DaysRemaining))
			n.CreatedAt = sched.DueSoonFrom(m)
		default:
			continue
		}
		out = append(out, n)
	}

	out = append(out, notification.Notification{
		ID:        "summary-" + m.String(),
		Type:      notification.TypeInfo,
		Title:     "Submission summary",
		Message:   fmt.Sprintf("%d of %d hospitals have submitted data for %s.", count, len(hospitals), monthLabel(m)),
		CreatedAt: now,
	})

	for _, msg := range pending {
		out = append(out, notification.Notification{
			ID:         "support-" + msg.ID,
			Type:       notification.TypeInfo,
			Title:      "New support request",
			Message:    msg.Subject,
			HospitalID: msg.HospitalID,
			CreatedAt:  msg.CreatedAt,
		})
	}
	return out
}
