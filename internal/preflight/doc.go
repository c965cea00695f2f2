// Package preflight validates the environment before the server starts.
//
// The package validates:
//   - Data directory existence and write permissions
//   - Disk space availability (minimum 100MB)
//   - Vector store reachability
//   - Embedding service reachability
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New(preflight.WithVectorStore(store))
//	results := checker.RunAll(ctx, dataDir)
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
