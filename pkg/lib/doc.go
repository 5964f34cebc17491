// Package lib provides a Go SDK for agentbox project sessions.
//
// It lets applications run commands in persistent project sandboxes, keep
// project snapshots and run plans with rollback recovery without shelling out
// to the agentbox CLI binary.
//
// # Quick Start
//
//	client, err := lib.New(ctx, lib.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Store the project files, they are restored on every new sandbox.
//	_, err = client.SaveSnapshot(ctx, "my-app", os.DirFS("./my-app"))
//
//	// Run a command, the sandbox is created on first use and reused after.
//	res, err := client.Exec(ctx, "my-app", "npm test", nil)
//
//	// Suspend the sandbox, the next use resumes it.
//	client.Pause(ctx, "my-app")
//
// # Providers
//
//   - [ProviderDocker]: long running containers, requires a Docker daemon.
//   - [ProviderFake]: in-memory sandboxes for unit testing.
//
// # Plans
//
// [Client.RunPlan] runs the steps of a [Plan] in dependency order. A rollback
// point is recorded before every step and failed steps are retried from the
// last stable point until the plan attempts are exhausted.
//
// # Errors
//
// Errors can be checked with [errors.Is] against [ErrNotFound],
// [ErrAlreadyExists], [ErrNotValid] and [ErrRecoveryExhausted].
package lib
