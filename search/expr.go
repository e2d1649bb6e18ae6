package search

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/D-E-N/PatrowlManager/finding"
)

// Expression is a compiled CEL filter over findings. The following variables
// are declared:
//
//	title, description, type, status, engine, asset_name, hash   string
//	severity                                                    string
//	severity_rank                                               int (info=1 .. critical=5)
//	cvss                                                        double
//	tags                                                        list(string)
//	manual                                                      bool
//	created_at, updated_at                                      timestamp
//
// Example: severity_rank >= 4 && "pci" in tags
type Expression struct {
	source  string
	program cel.Program
}

var findingEnv = mustEnv()

func mustEnv() *cel.Env {
	env, err := cel.NewEnv(
		cel.Variable("title", cel.StringType),
		cel.Variable("description", cel.StringType),
		cel.Variable("type", cel.StringType),
		cel.Variable("status", cel.StringType),
		cel.Variable("engine", cel.StringType),
		cel.Variable("asset_name", cel.StringType),
		cel.Variable("hash", cel.StringType),
		cel.Variable("severity", cel.StringType),
		cel.Variable("severity_rank", cel.IntType),
		cel.Variable("cvss", cel.DoubleType),
		cel.Variable("tags", cel.ListType(cel.StringType)),
		cel.Variable("manual", cel.BoolType),
		cel.Variable("created_at", cel.TimestampType),
		cel.Variable("updated_at", cel.TimestampType),
	)
	if err != nil {
		panic(fmt.Sprintf("search: build CEL environment: %v", err))
	}
	return env
}

// Compile parses and type-checks a filter expression. The expression must
// evaluate to a bool.
func Compile(source string) (*Expression, error) {
	ast, issues := findingEnv.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid filter expression: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("filter expression must be boolean, got %s", ast.OutputType())
	}

	prg, err := findingEnv.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build filter program: %w", err)
	}
	return &Expression{source: source, program: prg}, nil
}

// String returns the expression source.
func (e *Expression) String() string {
	return e.source
}

// Match evaluates the expression against f.
func (e *Expression) Match(ctx context.Context, f *finding.Finding) (bool, error) {
	tags := f.Tags
	if tags == nil {
		tags = []string{}
	}

	out, _, err := e.program.ContextEval(ctx, map[string]any{
		"title":         f.Title,
		"description":   f.Description,
		"type":          f.Type,
		"status":        string(f.Status),
		"engine":        f.EngineType,
		"asset_name":    f.AssetName,
		"hash":          f.Hash,
		"severity":      string(f.Severity),
		"severity_rank": int64(f.Severity.Rank()),
		"cvss":          f.RiskInfo.CVSSBaseScore,
		"tags":          tags,
		"manual":        f.IsManual(),
		"created_at":    f.CreatedAt,
		"updated_at":    f.UpdatedAt,
	})
	if err != nil {
		return false, err
	}

	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter expression returned %T, want bool", out.Value())
	}
	return b, nil
}
