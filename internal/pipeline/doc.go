// Package pipeline runs one deploy from a webhook delivery.
//
// A run walks a fixed sequence of stages:
//
//	Start → ConfigLoaded → Authenticated → PreScriptsDone →
//	ExcludeMaterialized → DeployScriptDone → PostScriptsDone → CleanedUp → End
//
// The first failing step aborts every later execution step. Cleanup (removing
// the exclude file and writing the closing banner) happens on both paths.
// Run never returns an error and never panics; the outcome is reported in a
// Result that the caller may record.
package pipeline
