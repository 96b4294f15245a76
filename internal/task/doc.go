// Package task contains the orchestration core: batch creation, job
// execution, the retry engine, progress aggregation, and crash recovery.
package task
