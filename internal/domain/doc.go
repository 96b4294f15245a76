// Package domain defines the core entities of the task-processing core:
// tasks, task items, retry policies, and per-kind task configuration.
package domain
