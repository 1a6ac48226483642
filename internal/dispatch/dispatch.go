// Package dispatch hands extraction events from the uploader to the extractor.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/Lllllllleong/fiscallens/internal/models"
)

const (
	ModeWorkflow   = "workflow"
	ModeCloudEvent = "cloudevent"

	// ExtractEventType is the CloudEvent type of an extraction request.
	ExtractEventType = "com.fiscallens.document.extract.v1"
	// ScanEventType is the CloudEvent type of a usage record.
	ScanEventType = "com.fiscallens.usage.scan.v1"

	eventSource = "fiscallens/doc-uploader"
)

// Dispatcher sends exactly one extraction event per upload.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev models.ExtractionEvent) error
	Close() error
}

// Config selects and configures the dispatcher.
type Config struct {
	Mode             string
	ProjectID        string
	WorkflowLocation string
	WorkflowID       string
	EventURL         string
}

// New returns the dispatcher for cfg.Mode.
func New(ctx context.Context, cfg Config) (Dispatcher, error) {
	switch cfg.Mode {
	case "", ModeWorkflow:
		return NewWorkflowDispatcher(ctx, cfg)
	case ModeCloudEvent:
		return NewCloudEventDispatcher(cfg.EventURL)
	default:
		return nil, fmt.Errorf("unknown DISPATCH_MODE %q", cfg.Mode)
	}
}

// WorkflowDispatcher starts a Cloud Workflows execution per event.
type WorkflowDispatcher struct {
	client *executions.Client
	parent string
}

func NewWorkflowDispatcher(ctx context.Context, cfg Config) (*WorkflowDispatcher, error) {
	if cfg.ProjectID == "" || cfg.WorkflowID == "" {
		return nil, fmt.Errorf("workflow dispatch needs PROJECT_ID and WORKFLOW_ID")
	}
	location := cfg.WorkflowLocation
	if location == "" {
		location = "us-central1"
	}
	client, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}
	return &WorkflowDispatcher{
		client: client,
		parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", cfg.ProjectID, location, cfg.WorkflowID),
	}, nil
}

func (d *WorkflowDispatcher) Dispatch(ctx context.Context, ev models.ExtractionEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: d.parent,
		Execution: &executionspb.Execution{
			Argument: string(payload),
		},
	}
	exec, err := d.client.CreateExecution(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	slog.Info("Workflow execution started.", "documentId", ev.DocumentID, "execution", exec.GetName())
	return nil
}

func (d *WorkflowDispatcher) Close() error {
	return d.client.Close()
}

// CloudEventDispatcher posts the event to an HTTP target in binary mode.
type CloudEventDispatcher struct {
	client cloudevents.Client
	target string
}

func NewCloudEventDispatcher(target string) (*CloudEventDispatcher, error) {
	if target == "" {
		return nil, fmt.Errorf("cloudevent dispatch needs EXTRACTOR_EVENT_URL")
	}
	client, err := cloudevents.NewClientHTTP()
	if err != nil {
		return nil, fmt.Errorf("failed to create cloudevents client: %w", err)
	}
	return &CloudEventDispatcher{client: client, target: target}, nil
}

func (d *CloudEventDispatcher) Dispatch(ctx context.Context, ev models.ExtractionEvent) error {
	return send(ctx, d.client, d.target, ExtractEventType, ev.DocumentID, ev)
}

func (d *CloudEventDispatcher) Close() error { return nil }

func send(ctx context.Context, client cloudevents.Client, target, eventType, subject string, data any) error {
	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetSource(eventSource)
	event.SetType(eventType)
	event.SetSubject(subject)
	if err := event.SetData(cloudevents.ApplicationJSON, data); err != nil {
		return fmt.Errorf("failed to encode %s event: %w", eventType, err)
	}

	result := client.Send(cloudevents.ContextWithTarget(ctx, target), event)
	if !cloudevents.IsACK(result) {
		return fmt.Errorf("%s event for %s was not acknowledged: %w", eventType, subject, result)
	}
	return nil
}
