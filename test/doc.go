// Package test provides integration testing infrastructure for renderd.
//
// The test package wires the real services, HTTP server and API client on
// top of a file-based SQLite database, local output storage and the
// in-memory execution backend, so a render can be followed from the first
// request through the job webhook to reconciliation and expiry.
//
// Example Usage:
//
//	func TestExample(t *testing.T) {
//	    env := test.NewTestEnvironment(t, test.WithServer())
//	    defer env.Cleanup()
//
//	    // Use env.APIClient to make requests
//	    // Use env.Backend to finish or lose jobs
//	    // Use env.PostWebhook to play the part of a finished job
//	}
package test
