// Package gitsource keeps a local checkout of a rule repository in sync.
//
// The checkout holds rule packs and industry profiles under configurable
// paths. Sync clones on first use and pulls afterwards, reporting which files
// moved between the old and new HEAD so callers can skip reloads when only
// unrelated files changed.
//
//	repo, err := gitsource.NewRepository(&cfg.Rules.Git, logger)
//	res, err := repo.Sync(ctx)
//	if res.RulesChanged() {
//		files.Reload()
//	}
//
// Poll runs Sync on an interval until its context is cancelled.
package gitsource
