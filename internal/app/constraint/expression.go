package constraint

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Expression evaluates a CEL predicate taken from the "expr" setting, e.g.
//
//	{"expression": {"expr": "'member' in grantee.roles && email.endsWith('@example.com')"}}
//
// Variables: grantee (id, email, roles), email, campaign (id, name), now.
// Compiled programs are cached per expression text.
type Expression struct {
	env      *cel.Env
	programs sync.Map // expr -> cel.Program
}

func NewExpression() (*Expression, error) {
	env, err := cel.NewEnv(
		cel.Variable("grantee", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("email", cel.StringType),
		cel.Variable("campaign", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("now", cel.TimestampType),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel environment: %w", err)
	}
	return &Expression{env: env}, nil
}

// Compile parses and type-checks expr. Only boolean expressions are accepted.
func (e *Expression) Compile(expr string) (cel.Program, error) {
	if cached, ok := e.programs.Load(expr); ok {
		return cached.(cel.Program), nil
	}
	ast, iss := e.env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile expression: %w", iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression must evaluate to bool, got %s", ast.OutputType())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build expression program: %w", err)
	}
	e.programs.Store(expr, prg)
	return prg, nil
}

func (e *Expression) IsGrantable(ctx context.Context, c Context, _ Store) (bool, error) {
	expr, err := stringSetting(c.Settings, "expr")
	if err != nil {
		return false, err
	}
	prg, err := e.Compile(expr)
	if err != nil {
		return false, err
	}

	grantee := map[string]any{"id": "", "email": "", "roles": []string{}}
	if c.Grantee != nil {
		roles := c.Grantee.Roles
		if roles == nil {
			roles = []string{}
		}
		grantee = map[string]any{"id": c.Grantee.ID, "email": c.Grantee.Email, "roles": roles}
	}
	vars := map[string]any{
		"grantee":  grantee,
		"email":    c.Email,
		"campaign": map[string]any{"id": c.Campaign.ID, "name": c.Campaign.Name},
		"now":      c.Now,
	}

	out, _, err := prg.ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("evaluate expression: %w", err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("expression returned %T, want bool", out.Value())
	}
	return ok, nil
}
