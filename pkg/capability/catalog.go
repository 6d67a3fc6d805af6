// Package capability manages the set of remotely invokable operations the
// agent may dispatch: discovery into a catalog, prompt rendering, and
// validated invocation.
package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rkapoor/dbagent/pkg/domain"
	"github.com/rkapoor/dbagent/pkg/mcp"
)

var (
	// ErrCatalogUnavailable indicates the capability server could not be
	// reached or advertised no capabilities.
	ErrCatalogUnavailable = errors.New("capability catalog unavailable")

	// ErrInvalidCapability indicates a requested tool is not in the catalog.
	ErrInvalidCapability = errors.New("invalid capability")
)

// Discoverer lists tools from the capability server.
type Discoverer interface {
	ListTools(ctx context.Context) ([]mcp.ToolDef, error)
}

// Catalog is the immutable set of capabilities fetched from the capability
// server, keyed by unique name. Discovery order is preserved so rendered
// prompts are reproducible for identical inputs.
type Catalog struct {
	caps  map[string]domain.Capability
	order []string
}

// Fetch discovers the capability set. It fails with ErrCatalogUnavailable
// when discovery errors or returns an empty set.
func Fetch(ctx context.Context, d Discoverer) (*Catalog, error) {
	defs, err := d.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("%w: server advertised no tools", ErrCatalogUnavailable)
	}

	c := &Catalog{caps: make(map[string]domain.Capability, len(defs))}
	for _, def := range defs {
		if _, exists := c.caps[def.Name]; exists {
			continue
		}
		c.caps[def.Name] = domain.Capability{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		}
		c.order = append(c.order, def.Name)
	}
	return c, nil
}

// Has reports whether the named capability exists.
func (c *Catalog) Has(name string) bool {
	_, ok := c.caps[name]
	return ok
}

// Get returns the named capability.
func (c *Catalog) Get(name string) (domain.Capability, bool) {
	cap, ok := c.caps[name]
	return cap, ok
}

// Len returns the number of capabilities.
func (c *Catalog) Len() int {
	return len(c.order)
}

// Capabilities returns all capabilities in discovery order.
func (c *Catalog) Capabilities() []domain.Capability {
	out := make([]domain.Capability, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.caps[name])
	}
	return out
}

// Render produces the complete textual description of every capability for
// prompt embedding. Output is deterministic: entries appear in discovery
// order with name, description, and input schema.
func (c *Catalog) Render() string {
	var b strings.Builder
	for _, name := range c.order {
		cap := c.caps[name]
		fmt.Fprintf(&b, "- %s: %s\n", cap.Name, cap.Description)
		if len(cap.InputSchema) > 0 {
			var indented bytes.Buffer
			if err := json.Indent(&indented, cap.InputSchema, "  ", "  "); err == nil {
				fmt.Fprintf(&b, "  Input schema: %s\n", indented.String())
			}
		}
	}
	return b.String()
}
