package capability

import (
	"context"
	"fmt"

	"github.com/rkapoor/dbagent/pkg/mcp"
)

// Caller dispatches a tool call to the capability server.
type Caller interface {
	CallTool(ctx context.Context, name string, arguments map[string]any) (*mcp.ToolResult, error)
}

// Invoker validates capability requests against a catalog and dispatches
// them to the remote server.
type Invoker struct {
	caller Caller
}

// NewInvoker creates an Invoker backed by the given caller.
func NewInvoker(caller Caller) *Invoker {
	return &Invoker{caller: caller}
}

// Invoke runs the named capability and returns the observation text.
//
// A tool name absent from the catalog fails immediately with
// ErrInvalidCapability, without contacting the server. Any failure on the
// remote side, transport errors included, is converted into an observation
// string instead of an error: a failed call becomes model-visible context
// for the next step, not a loop crash.
func (i *Invoker) Invoke(ctx context.Context, toolName string, arguments map[string]any, catalog *Catalog) (string, error) {
	if _, ok := catalog.Get(toolName); !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidCapability, toolName)
	}

	result, err := i.caller.CallTool(ctx, toolName, arguments)
	if err != nil {
		return fmt.Sprintf("Error calling tool '%s': %v", toolName, err), nil
	}
	text := result.Text()
	if result.IsError {
		return fmt.Sprintf("Error calling tool '%s': %s", toolName, text), nil
	}
	return text, nil
}
