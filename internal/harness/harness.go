package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ripplehq/ripple/internal/broadcast"
	"github.com/ripplehq/ripple/internal/engine"
	"github.com/ripplehq/ripple/internal/entity"
	"github.com/ripplehq/ripple/internal/notify"
	"github.com/ripplehq/ripple/internal/policy"
	"github.com/ripplehq/ripple/internal/registry"
	"github.com/ripplehq/ripple/internal/store"
	"github.com/ripplehq/ripple/internal/testutil"
)

// Run executes a scenario against a temporary store and returns the
// result. An error means the harness itself broke (store failure, bad
// seed); expectation mismatches and unexpected violations land in
// Result.Errors instead.
func Run(ctx context.Context, s *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "ripple-harness-")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "scenario.db"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	pol := policy.Default()
	if s.Policy != "" {
		pol, err = policy.Load(s.Policy)
		if err != nil {
			return nil, fmt.Errorf("load policy: %w", err)
		}
	}

	if err := seed(ctx, st, s.Seed); err != nil {
		return nil, err
	}

	// Record the post-seed changelog positions: only step-driven
	// changes get pumped through the broadcaster.
	horizon := make(map[entity.Collection]int64, len(entity.WatchedCollections))
	for _, c := range entity.WatchedCollections {
		seq, err := st.LastSeq(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("seed horizon for %s: %w", c, err)
		}
		horizon[c] = seq
	}

	reg := registry.New()
	channels := make(map[string]*testutil.CaptureChannel, len(s.Seed.Users))
	for _, doc := range s.Seed.Users {
		id, err := docID(entity.CollectionUsers, doc)
		if err != nil {
			return nil, err
		}
		ch := testutil.NewCaptureChannel()
		channels[id] = ch
		reg.Join(id, ch)
	}
	bc := broadcast.New(reg)

	tokens := s.FlowTokens
	if len(tokens) == 0 {
		tokens = testutil.SequentialFlows("flow", len(s.Steps))
	}
	eng := engine.New(st, notify.NewSink(st, testutil.StoppedClock()), pol,
		engine.WithClock(engine.NewClock()),
		engine.WithFlowGenerator(engine.NewFixedGenerator(tokens...)),
		engine.WithNow(testutil.StoppedClock()),
	)

	res := &Result{
		Scenario:  s.Name,
		Pass:      true,
		Projects:  make(map[string]string),
		Delivered: make(map[string][]Delivery),
	}

	for i, step := range s.Steps {
		if err := runStep(ctx, st, eng, step, res); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, step.Trigger, err)
		}
		if !res.Pass {
			break
		}
	}

	if err := pump(ctx, st, bc, horizon); err != nil {
		return nil, err
	}

	if err := collect(ctx, st, channels, res); err != nil {
		return nil, err
	}
	checkExpectations(s, res)
	return res, nil
}

// seed writes the scenario's documents without cascading anything.
func seed(ctx context.Context, st *store.Store, sd Seed) error {
	groups := []struct {
		collection entity.Collection
		docs       []map[string]any
	}{
		{entity.CollectionUsers, sd.Users},
		{entity.CollectionProjects, sd.Projects},
		{entity.CollectionTasks, sd.Tasks},
		{entity.CollectionComments, sd.Comments},
	}
	for _, g := range groups {
		for _, doc := range g.docs {
			id, err := docID(g.collection, doc)
			if err != nil {
				return err
			}
			if err := st.PutDocument(ctx, g.collection, id, doc); err != nil {
				return fmt.Errorf("seed %s/%s: %w", g.collection, id, err)
			}
		}
	}
	return nil
}

// docID extracts a document's id. Scenarios built in code bypass
// ParseScenario's validation, so a malformed seed must come back as an
// error rather than a panic.
func docID(collection entity.Collection, doc map[string]any) (string, error) {
	id, ok := doc["id"].(string)
	if !ok || id == "" {
		return "", fmt.Errorf("seed %s: document missing id", collection)
	}
	return id, nil
}

// runStep applies the step's primary mutation and evaluates its trigger.
func runStep(ctx context.Context, st *store.Store, eng *engine.Engine, step Step, res *Result) error {
	trg := step.trigger()
	if err := applyPrimary(ctx, st, step, trg); err != nil {
		return err
	}

	out, evalErr := eng.Evaluate(ctx, trg)
	for _, ev := range out.Trace {
		res.Trace = append(res.Trace, TraceRow{
			Flow:      out.FlowToken,
			Seq:       ev.Seq,
			Kind:      ev.Kind,
			Rule:      ev.Rule,
			Subject:   ev.Subject,
			Recipient: ev.Recipient,
			Detail:    ev.Detail,
		})
	}

	switch {
	case evalErr == nil && step.ExpectViolation != "":
		res.fail("step %s: expected violation %s, got none", step.Trigger, step.ExpectViolation)
	case evalErr != nil && step.ExpectViolation == "":
		if engine.IsRuleViolation(evalErr) || engine.IsQuotaError(evalErr) {
			res.fail("step %s: unexpected rejection: %v", step.Trigger, evalErr)
			return nil
		}
		return evalErr
	case evalErr != nil:
		code := violationCode(evalErr)
		if code != step.ExpectViolation {
			res.fail("step %s: expected violation %s, got %v", step.Trigger, step.ExpectViolation, evalErr)
			return nil
		}
		res.Trace = append(res.Trace, TraceRow{
			Flow:    out.FlowToken,
			Kind:    "violation",
			Rule:    code,
			Subject: trg.UserID,
		})
	}
	return nil
}

func violationCode(err error) string {
	var rv *engine.RuleViolationError
	if errors.As(err, &rv) {
		return string(rv.Code)
	}
	return ""
}

// trigger converts a step into an engine trigger, filling ids from the
// inserted document where the step omits them.
func (step Step) trigger() engine.Trigger {
	trg := engine.Trigger{
		Kind:      engine.TriggerKind(step.Trigger),
		Actor:     step.Actor,
		ProjectID: step.Project,
		TaskID:    step.Task,
		CommentID: step.Comment,
		UserID:    step.User,
		OldStatus: step.From,
		NewStatus: step.To,
	}
	if step.Document != nil {
		id, _ := step.Document["id"].(string)
		switch trg.Kind {
		case engine.TriggerTaskCreated:
			if trg.TaskID == "" {
				trg.TaskID = id
			}
			if trg.ProjectID == "" {
				trg.ProjectID, _ = step.Document["projectId"].(string)
			}
		case engine.TriggerCommentAdded:
			if trg.CommentID == "" {
				trg.CommentID = id
			}
			if trg.TaskID == "" {
				trg.TaskID, _ = step.Document["taskId"].(string)
			}
		}
	}
	return trg
}

// applyPrimary performs the write a caller would have made before
// invoking the engine. Reactivation triggers mutate through the engine
// itself and need no primary write.
func applyPrimary(ctx context.Context, st *store.Store, step Step, trg engine.Trigger) error {
	update := func(c entity.Collection, id string, fields map[string]any) error {
		if _, err := st.UpdateDocument(ctx, c, id, fields); err != nil {
			return fmt.Errorf("primary write %s/%s: %w", c, id, err)
		}
		return nil
	}

	switch trg.Kind {
	case engine.TriggerTaskCreated:
		if step.Document == nil {
			return fmt.Errorf("task.created step needs a document")
		}
		return st.PutDocument(ctx, entity.CollectionTasks, trg.TaskID, step.Document)
	case engine.TriggerTaskStatusChanged:
		return update(entity.CollectionTasks, trg.TaskID, map[string]any{"status": step.To})
	case engine.TriggerTaskFlagToggled:
		if step.Flagged == nil {
			return fmt.Errorf("task.flag_toggled step needs flagged")
		}
		return update(entity.CollectionTasks, trg.TaskID, map[string]any{"flagged": *step.Flagged})
	case engine.TriggerCommentAdded:
		if step.Document == nil {
			return fmt.Errorf("comment.added step needs a document")
		}
		return st.PutDocument(ctx, entity.CollectionComments, trg.CommentID, step.Document)
	case engine.TriggerProjectStatusChanged:
		return update(entity.CollectionProjects, trg.ProjectID, map[string]any{"status": step.To})
	case engine.TriggerMemberAdded, engine.TriggerMemberRemoved:
		project, err := st.GetProject(ctx, trg.ProjectID)
		if err != nil {
			return fmt.Errorf("load project %s: %w", trg.ProjectID, err)
		}
		members := membersAfter(project.Members, trg.UserID, trg.Kind == engine.TriggerMemberAdded)
		return update(entity.CollectionProjects, trg.ProjectID, map[string]any{"members": members})
	case engine.TriggerAccountDisabled:
		return update(entity.CollectionUsers, trg.UserID, map[string]any{
			"isActive":   false,
			"disabledBy": trg.Actor,
		})
	case engine.TriggerAccountEnabled:
		return update(entity.CollectionUsers, trg.UserID, map[string]any{"isActive": true})
	default:
		return nil
	}
}

func membersAfter(members []string, userID string, add bool) []string {
	out := make([]string, 0, len(members)+1)
	for _, m := range members {
		if m != userID {
			out = append(out, m)
		}
	}
	if add {
		out = append(out, userID)
	}
	return out
}

// pump replays the step-era changelog through the broadcaster so the
// capture channels see what connected clients would have.
func pump(ctx context.Context, st *store.Store, bc *broadcast.Broadcaster, horizon map[entity.Collection]int64) error {
	for _, c := range entity.WatchedCollections {
		since := horizon[c]
		for {
			evs, err := st.ChangesSince(ctx, c, since, 256)
			if err != nil {
				return fmt.Errorf("changelog %s: %w", c, err)
			}
			if len(evs) == 0 {
				break
			}
			for _, ev := range evs {
				if err := bc.Broadcast(ev); err != nil {
					return fmt.Errorf("broadcast %s/%s: %w", ev.Collection, ev.EntityID, err)
				}
				since = ev.Seq
			}
		}
	}
	return nil
}

// collect reads final state and the captured deliveries into the result.
func collect(ctx context.Context, st *store.Store, channels map[string]*testutil.CaptureChannel, res *Result) error {
	projects, err := st.ListCollection(ctx, entity.CollectionProjects)
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}
	for _, doc := range projects {
		p, err := entity.DecodeProject(doc)
		if err != nil {
			return fmt.Errorf("decode project: %w", err)
		}
		res.Projects[p.ID] = string(p.Status)
	}

	docs, err := st.ListCollection(ctx, entity.CollectionNotifications)
	if err != nil {
		return fmt.Errorf("list notifications: %w", err)
	}
	for _, doc := range docs {
		n, err := entity.DecodeNotification(doc)
		if err != nil {
			return fmt.Errorf("decode notification: %w", err)
		}
		res.Notifications = append(res.Notifications, n)
	}
	sort.Slice(res.Notifications, func(i, j int) bool {
		a, b := res.Notifications[i], res.Notifications[j]
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		return a.ID < b.ID
	})

	for user, ch := range channels {
		for _, f := range ch.Frames() {
			var env broadcast.Envelope
			if err := json.Unmarshal(f.Payload, &env); err != nil {
				return fmt.Errorf("decode envelope for %s: %w", user, err)
			}
			res.Delivered[user] = append(res.Delivered[user], Delivery{
				Event:     f.Event,
				Operation: env.Operation,
				ID:        env.ID,
			})
		}
	}
	return nil
}
