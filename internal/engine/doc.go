// Package engine evaluates cascade rules over primary mutations.
//
// A Trigger names a primary mutation (task created, comment added,
// account disabled, ...) together with the acting user. Evaluate runs
// the rule for that trigger kind, applies derived mutations through the
// store, persists notifications through the sink, and returns an
// Outcome describing everything that happened.
//
// Two entry points feed the engine:
//
//   - Evaluate: the direct path. The API layer calls it synchronously
//     after its own store write, with the actor it authenticated.
//     RuleViolation errors surface here.
//   - HandleChange: the reactive path. The mutation log tap feeds every
//     observed ChangeEvent through it; triggers are derived for writes
//     the direct path did not already cover.
//
// Evaluation per ordering key (project or user) is serialized with a
// keyed mutex; unrelated entities never contend. A per-flow firing memo
// and step quota bound cascades that feed back into the change feed.
package engine
