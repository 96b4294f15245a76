// Package api contains the HTTP handlers for the task management
// surface: batch submission, task inspection, cancellation, retry, and
// the workers/queues/health endpoints.
package api
