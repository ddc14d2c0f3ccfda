package observe

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for workflow observability spans and metrics.
var (
	AttrWorkflowName = attribute.Key("workflow.name")
	AttrWorkflowID   = attribute.Key("workflow.id")

	AttrStepID   = attribute.Key("workflow.step.id")
	AttrStepKind = attribute.Key("workflow.step.kind")

	AttrProgressLabel = attribute.Key("workflow.progress.label")
	AttrProgressTotal = attribute.Key("workflow.progress.total_work")
	AttrProgressWork  = attribute.Key("workflow.progress.work")
	AttrProgressMsg   = attribute.Key("workflow.progress.message")

	AttrCacheKey = attribute.Key("workflow.cache.key")
	AttrCanceled = attribute.Key("workflow.canceled")
)
