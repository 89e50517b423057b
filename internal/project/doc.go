// Package project implements the per-project metadata facade.
//
// A Project owns one scalar settings store, one resource property cache
// with its debounced flush scheduler, and lazily created collaborators
// (data source registry, task manager, secure credential storage). All
// state lives under the project's metadata directory; an in-memory
// project keeps the same surface but never touches disk.
package project
