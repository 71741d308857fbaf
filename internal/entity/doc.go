// Package entity defines the closed set of typed records the sync engine
// operates on: users, projects, tasks, comments, and notifications, plus
// the ChangeEvent envelope emitted by the mutation log tap.
//
// The persistent store hands the engine loosely-shaped JSON documents.
// This package is the boundary where those documents become typed values:
// Decode* functions reject documents with missing or mistyped required
// fields instead of passing them through untyped. Everything downstream
// of this package works with these variants only.
//
// Entities are read-mostly from the engine's point of view. The store owns
// them; the engine derives secondary state (project status, reactivation
// flags) and notifications from observed changes.
package entity
