package tools

import (
	"fmt"

	"relay/internal/logging"
	"relay/internal/store"
)

const createTaskSchema = `{
	"type": "object",
	"properties": {
		"tenantId": {"type": "string"},
		"title": {"type": "string"},
		"type": {"type": "string", "enum": ["todo", "appointment"]},
		"priority": {"type": "string", "enum": ["low", "medium", "high"]},
		"status": {"type": "string"},
		"startTime": {"type": "string"},
		"durationMinutes": {"type": "number"},
		"associations": {"type": "object"}
	},
	"required": ["title"]
}`

const updateLocationAssociationSchema = `{
	"type": "object",
	"properties": {
		"tenantId": {"type": "string"},
		"entityType": {"type": "string"},
		"entityId": {"type": "string"},
		"companyId": {"type": "string"},
		"locationId": {"type": ["string", "null"]}
	},
	"required": ["entityType", "entityId"]
}`

const draftEmailSchema = `{
	"type": "object",
	"properties": {
		"tenantId": {"type": "string"},
		"recipient": {"type": "string"},
		"topic": {"type": "string"}
	},
	"required": ["recipient"]
}`

const summarizeEmailThreadSchema = `{
	"type": "object",
	"properties": {
		"tenantId": {"type": "string"},
		"threadId": {"type": "string"}
	},
	"required": ["threadId"]
}`

// Deps are the collaborators handlers orchestrate.
type Deps struct {
	Records   store.RecordStore
	Directory store.Directory
	Audit     store.AuditSink
	Logger    logging.Logger
}

// DefaultRegistry builds the production registry: every supported action
// variant bound to its schema and handler, resolved once at startup.
func DefaultRegistry(deps Deps) (*Registry, error) {
	registry := NewRegistry()

	registrations := []struct {
		description string
		schema      string
		handler     Handler
	}{
		{
			description: "Create a todo or appointment task for the current user.",
			schema:      createTaskSchema,
			handler:     NewCreateTaskHandler(deps.Records, deps.Directory, deps.Audit, deps.Logger),
		},
		{
			description: "Set or clear the location a contact, deal, or salesperson is associated with.",
			schema:      updateLocationAssociationSchema,
			handler:     NewUpdateLocationAssociationHandler(deps.Records, deps.Audit, deps.Logger),
		},
		{
			description: "Compose an email draft grounded on recent messages. Does not send.",
			schema:      draftEmailSchema,
			handler:     NewDraftEmailHandler(deps.Records, deps.Logger),
		},
		{
			description: "Summarize the most recent messages of an email thread.",
			schema:      summarizeEmailThreadSchema,
			handler:     NewSummarizeEmailThreadHandler(deps.Records, deps.Logger),
		},
	}

	for _, reg := range registrations {
		if err := registry.Register(reg.description, []byte(reg.schema), reg.handler); err != nil {
			return nil, fmt.Errorf("register %s: %w", reg.handler.Name(), err)
		}
	}
	return registry, nil
}
