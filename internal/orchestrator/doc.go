// Package orchestrator drives a coding task through a phase state machine.
//
// # Overview
//
// A run moves strictly forward through
//
//	Idle → Understanding → Planning → Executing → AwaitingApproval → Complete
//
// and may drop into Error from any phase. Error is absorbing.
//
// # Phases
//
// Understanding runs a tool-call loop with the read-only tools and keeps the
// model's final text as the codebase summary. A SummaryCache can supply the
// summary for an unchanged repository revision instead.
//
// Planning asks the model for a JSON array of {"description", "tool"} steps.
// A response that does not parse fails the run with ErrPlanParse.
//
// Executing runs one tool-call loop per step with the full tool set. Writes
// and deletes go to the run's ledger and never touch disk. Each step prompt
// carries a truncated log of earlier step results.
//
// Once the steps finish, a run with no staged changes completes directly.
// Otherwise registered gates inspect the ledger, the sink receives an
// ApprovalRequest with the diff, and the run either asks its Approver or
// parks until Approve is called.
//
// # Limits
//
// Each tool-call loop is capped at WithMaxIterations turns and the run as a
// whole at WithMaxRunTokens tokens. An external UsageTracker error is fatal
// too. A failed run keeps its staged changes for inspection.
//
// # Usage
//
//	o := orchestrator.New(client, dispatcher,
//	    orchestrator.WithRoot(repo),
//	    orchestrator.WithSink(recorder),
//	    orchestrator.WithGates(orchestrator.NewSecretGate(scanner, false)),
//	)
//	state, err := o.Run(ctx, "create hello.txt with 'hi'")
//	if err == nil && state.Phase == orchestrator.PhaseAwaitingApproval {
//	    outcome, err := o.Approve(ctx, orchestrator.Decision{Approved: true})
//	    ...
//	}
package orchestrator
