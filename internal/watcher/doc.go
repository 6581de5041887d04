// Package watcher triggers syncs when a registered repository's commit moves.
//
// It watches each repository's .git/HEAD, packed-refs and refs/heads with
// fsnotify. Working tree edits are ignored: syncs follow commits, not
// uncommitted changes. Ref updates arrive in bursts (commit, rebase, pull), so
// events are debounced per repository before a sync runs.
//
// Usage:
//
//	w, err := watcher.New(watcher.Options{Debounce: 2 * time.Second})
//	if err != nil {
//	    return err
//	}
//	defer w.Close()
//
//	if err := w.Add("demo", "/src/demo"); err != nil {
//	    return err
//	}
//	return w.Run(ctx, func(ctx context.Context, repo string) error {
//	    _, err := runner.Sync(ctx, repo, false)
//	    return err
//	})
package watcher
