package dbtools

import (
	"context"
	"encoding/json"
	"fmt"

	mcpgo "github.com/felixgeelhaar/mcp-go"
)

type nameParams struct {
	Name string `json:"name"`
}

type tableParams struct {
	Table string `json:"table"`
}

type sqlParams struct {
	SQL string `json:"sql"`
}

// NewServer builds an MCP server exposing the manager's database tools.
func NewServer(name, version string, mgr *Manager) *mcpgo.Server {
	srv := mcpgo.NewServer(mcpgo.ServerInfo{
		Name:    name,
		Version: version,
		Capabilities: mcpgo.Capabilities{
			Tools: true,
		},
	})

	srv.Tool("list_databases").
		Description("List the names of all databases.").
		Handler(func(ctx context.Context, input json.RawMessage) (string, error) {
			names, err := mgr.ListDatabases(ctx)
			if err != nil {
				return "", err
			}
			return marshal(names)
		})

	srv.Tool("create_database").
		Description("Create a new empty database. Arguments: {\"name\": string}.").
		Handler(func(ctx context.Context, input json.RawMessage) (string, error) {
			var p nameParams
			if err := decode(input, &p); err != nil {
				return "", err
			}
			if err := mgr.CreateDatabase(ctx, p.Name); err != nil {
				return "", err
			}
			return fmt.Sprintf("Database %q created.", p.Name), nil
		})

	srv.Tool("delete_database").
		Description("Delete a database and all of its data. Arguments: {\"name\": string}.").
		Handler(func(ctx context.Context, input json.RawMessage) (string, error) {
			var p nameParams
			if err := decode(input, &p); err != nil {
				return "", err
			}
			if err := mgr.DeleteDatabase(ctx, p.Name); err != nil {
				return "", err
			}
			return fmt.Sprintf("Database %q deleted.", p.Name), nil
		})

	srv.Tool("use_database").
		Description("Select a database for subsequent table and query operations. Arguments: {\"name\": string}.").
		Handler(func(ctx context.Context, input json.RawMessage) (string, error) {
			var p nameParams
			if err := decode(input, &p); err != nil {
				return "", err
			}
			if err := mgr.UseDatabase(ctx, p.Name); err != nil {
				return "", err
			}
			return fmt.Sprintf("Now using database %q.", p.Name), nil
		})

	srv.Tool("get_current_database").
		Description("Return the name of the currently selected database, or an empty string if none is selected.").
		Handler(func(ctx context.Context, input json.RawMessage) (string, error) {
			return mgr.CurrentDatabase(ctx), nil
		})

	srv.Tool("list_tables").
		Description("List the tables of the currently selected database.").
		Handler(func(ctx context.Context, input json.RawMessage) (string, error) {
			tables, err := mgr.ListTables(ctx)
			if err != nil {
				return "", err
			}
			return marshal(tables)
		})

	srv.Tool("describe_table").
		Description("Describe the columns of a table in the currently selected database. Arguments: {\"table\": string}.").
		Handler(func(ctx context.Context, input json.RawMessage) (string, error) {
			var p tableParams
			if err := decode(input, &p); err != nil {
				return "", err
			}
			cols, err := mgr.DescribeTable(ctx, p.Table)
			if err != nil {
				return "", err
			}
			return marshal(cols)
		})

	srv.Tool("run_query").
		Description("Run a read-only SELECT query against the currently selected database and return the rows as JSON. Arguments: {\"sql\": string}.").
		Handler(func(ctx context.Context, input json.RawMessage) (string, error) {
			var p sqlParams
			if err := decode(input, &p); err != nil {
				return "", err
			}
			return mgr.RunQuery(ctx, p.SQL)
		})

	srv.Tool("execute_sql").
		Description("Execute a DDL or DML statement (CREATE TABLE, INSERT, UPDATE, DELETE, ...) against the currently selected database. Arguments: {\"sql\": string}.").
		Handler(func(ctx context.Context, input json.RawMessage) (string, error) {
			var p sqlParams
			if err := decode(input, &p); err != nil {
				return "", err
			}
			n, err := mgr.ExecuteSQL(ctx, p.SQL)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("OK, %d row(s) affected.", n), nil
		})

	srv.Tool("check_integrity").
		Description("Run integrity and foreign key checks on the currently selected database. Returns an empty result when no violations exist.").
		Handler(func(ctx context.Context, input json.RawMessage) (string, error) {
			return mgr.CheckIntegrity(ctx)
		})

	return srv
}

func decode(input json.RawMessage, v any) error {
	if len(input) == 0 {
		return fmt.Errorf("missing arguments")
	}
	if err := json.Unmarshal(input, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func marshal(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
