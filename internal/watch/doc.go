// Package watch defines the shared vocabulary of the keyword watcher: the
// watch configuration and run flag kept in the control store, the page text
// returned by fetchers, match results, alerts, tick outcomes, and the narrow
// interfaces every subsystem is wired through.
package watch
