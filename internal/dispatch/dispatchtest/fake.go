// Package dispatchtest provides an in-memory dispatch.Client for tests.
package dispatchtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	commonpb "go.temporal.io/api/common/v1"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	workflowpb "go.temporal.io/api/workflow/v1"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
)

type Signal struct {
	Name string
	Arg  interface{}
}

type Execution struct {
	WorkflowID      string
	RunID           string
	WorkflowType    string
	TaskQueue       string
	Args            []interface{}
	Status          enums.WorkflowExecutionStatus
	Signals         []Signal
	CancelRequested bool
	// Queries answers QueryWorkflow by query type.
	Queries map[string]interface{}
}

// Client keeps executions in memory and mimics the server's errors: starting a
// duplicate ID fails with WorkflowExecutionAlreadyStarted and sending to a
// missing or closed execution fails with NotFound.
type Client struct {
	mu         sync.Mutex
	executions map[string]*Execution
	runs       int

	// Err, when set, is returned by every call as a transport failure.
	Err error
	// LastListQuery is the visibility query of the latest ListWorkflow call.
	LastListQuery string
}

func New() *Client {
	return &Client{executions: make(map[string]*Execution)}
}

func (c *Client) Execution(workflowID string) (Execution, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.executions[workflowID]
	if !ok {
		return Execution{}, false
	}
	cp := *e
	cp.Signals = append([]Signal(nil), e.Signals...)
	return cp, true
}

// Close moves an execution to status.
func (c *Client) Close(workflowID string, status enums.WorkflowExecutionStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.executions[workflowID]; ok {
		e.Status = status
	}
}

func (c *Client) SetQuery(workflowID, queryType string, answer interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.executions[workflowID]; ok {
		e.Queries[queryType] = answer
	}
}

func (c *Client) ExecuteWorkflow(_ context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	if e, ok := c.executions[options.ID]; ok {
		return nil, serviceerror.NewWorkflowExecutionAlreadyStarted("Workflow execution already started", "", e.RunID)
	}
	c.runs++
	e := &Execution{
		WorkflowID: options.ID,
		RunID:      fmt.Sprintf("run-%d", c.runs),
		TaskQueue:  options.TaskQueue,
		Args:       args,
		Status:     enums.WORKFLOW_EXECUTION_STATUS_RUNNING,
		Queries:    make(map[string]interface{}),
	}
	if name, ok := workflow.(string); ok {
		e.WorkflowType = name
	}
	c.executions[options.ID] = e
	return &run{id: e.WorkflowID, runID: e.RunID}, nil
}

func (c *Client) SignalWorkflow(_ context.Context, workflowID string, _ string, signalName string, arg interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, err := c.running(workflowID)
	if err != nil {
		return err
	}
	e.Signals = append(e.Signals, Signal{Name: signalName, Arg: arg})
	return nil
}

func (c *Client) CancelWorkflow(_ context.Context, workflowID string, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, err := c.running(workflowID)
	if err != nil {
		return err
	}
	e.CancelRequested = true
	return nil
}

func (c *Client) QueryWorkflow(_ context.Context, workflowID string, _ string, queryType string, _ ...interface{}) (converter.EncodedValue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	e, ok := c.executions[workflowID]
	if !ok {
		return nil, serviceerror.NewNotFound("workflow not found for ID: " + workflowID)
	}
	answer, ok := e.Queries[queryType]
	if !ok {
		return nil, fmt.Errorf("unknown queryType %s", queryType)
	}
	return encodedValue{v: answer}, nil
}

func (c *Client) DescribeWorkflowExecution(_ context.Context, workflowID, _ string) (*workflowservice.DescribeWorkflowExecutionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	e, ok := c.executions[workflowID]
	if !ok {
		return nil, serviceerror.NewNotFound("workflow not found for ID: " + workflowID)
	}
	return &workflowservice.DescribeWorkflowExecutionResponse{WorkflowExecutionInfo: info(e)}, nil
}

func (c *Client) ListWorkflow(_ context.Context, request *workflowservice.ListWorkflowExecutionsRequest) (*workflowservice.ListWorkflowExecutionsResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	c.LastListQuery = request.GetQuery()
	resp := &workflowservice.ListWorkflowExecutionsResponse{}
	for _, e := range c.executions {
		if e.Status == enums.WORKFLOW_EXECUTION_STATUS_RUNNING {
			resp.Executions = append(resp.Executions, info(e))
		}
	}
	return resp, nil
}

func (c *Client) running(workflowID string) (*Execution, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	e, ok := c.executions[workflowID]
	if !ok {
		return nil, serviceerror.NewNotFound("workflow not found for ID: " + workflowID)
	}
	if e.Status != enums.WORKFLOW_EXECUTION_STATUS_RUNNING {
		return nil, serviceerror.NewNotFound("workflow execution already completed")
	}
	return e, nil
}

func info(e *Execution) *workflowpb.WorkflowExecutionInfo {
	return &workflowpb.WorkflowExecutionInfo{
		Execution: &commonpb.WorkflowExecution{WorkflowId: e.WorkflowID, RunId: e.RunID},
		Type:      &commonpb.WorkflowType{Name: e.WorkflowType},
		Status:    e.Status,
	}
}

type run struct {
	id    string
	runID string
}

func (r *run) GetID() string    { return r.id }
func (r *run) GetRunID() string { return r.runID }

func (r *run) Get(context.Context, interface{}) error { return nil }

func (r *run) GetWithOptions(context.Context, interface{}, client.WorkflowRunGetOptions) error {
	return nil
}

// encodedValue round-trips through JSON like the default data converter.
type encodedValue struct {
	v interface{}
}

func (e encodedValue) HasValue() bool { return e.v != nil }

func (e encodedValue) Get(valuePtr interface{}) error {
	b, err := json.Marshal(e.v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, valuePtr)
}
