// Package store opens the ControlStore backend selected in configuration.
// Backends live in subpackages and depend only on the watch package.
package store
