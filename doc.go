// Package flow is an engine for constructing, serializing, and executing
// directed acyclic graphs of computational steps whose outputs feed other
// steps' inputs.
//
// A Workflow holds an ordered list of steps, each with named input and
// output ports. A port carries either a literal value or a source
// reference to another port; execution walks the steps in dependency
// order, and each step reads its inputs through its ports, computes, and
// writes its outputs. Workflows are themselves composable: a WorkflowStep
// wraps a nested workflow loaded from a resource locator, with an
// isolated value-cache scope.
//
// Step kinds: OpStep invokes an operation registered in a Registry,
// ExpressionStep evaluates a sandboxed expression over its inputs,
// SubProcessStep runs an external command (on the host or, with the
// subprocess package, in a container), WorkflowStep nests another
// workflow, and NoOpStep routes values without computing.
//
// Workflows round-trip through a stable JSON format (ReadWorkflow,
// Workflow.WriteJSON) and persist through the Store interface backed by
// the store/sqlite and store/postgres packages.
package flow
