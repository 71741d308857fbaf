package harness

import "github.com/ripplehq/ripple/internal/engine"

// checkExpectations validates the declared expectations against the
// collected result, appending one error per miss.
func checkExpectations(s *Scenario, res *Result) {
	for _, want := range s.Expect.Notifications {
		if !res.notified(want.User, want.Rule) {
			res.fail("expected notification rule=%s user=%s, not fired", want.Rule, want.User)
			continue
		}
		if want.Title != "" && !res.hasTitle(want.User, want.Title) {
			res.fail("expected notification for %s titled %q, not persisted", want.User, want.Title)
		}
	}

	for _, want := range s.Expect.Projects {
		got, ok := res.Projects[want.ID]
		if !ok {
			res.fail("expected project %s, not in store", want.ID)
			continue
		}
		if got != want.Status {
			res.fail("project %s: status %s, want %s", want.ID, got, want.Status)
		}
	}

	for _, want := range s.Expect.Events {
		if !res.delivered(want.User, want.Event, want.ID) {
			res.fail("expected event %s for %s (id=%q), not delivered", want.Event, want.User, want.ID)
		}
	}

	if s.Expect.NotificationCount != nil && len(res.Notifications) != *s.Expect.NotificationCount {
		res.fail("notification count %d, want %d", len(res.Notifications), *s.Expect.NotificationCount)
	}
}

// notified reports whether the trace shows a notification firing for the
// (recipient, rule) pair.
func (r *Result) notified(user, rule string) bool {
	for _, row := range r.Trace {
		if row.Kind == engine.TraceNotification && row.Recipient == user && row.Rule == rule {
			return true
		}
	}
	return false
}

// hasTitle reports whether a persisted notification for user carries the
// title.
func (r *Result) hasTitle(user, title string) bool {
	for _, n := range r.Notifications {
		if n.UserID == user && n.Title == title {
			return true
		}
	}
	return false
}

// delivered reports whether the user's channel received the event,
// optionally pinned to an entity id.
func (r *Result) delivered(user, event, id string) bool {
	for _, d := range r.Delivered[user] {
		if d.Event == event && (id == "" || d.ID == id) {
			return true
		}
	}
	return false
}
