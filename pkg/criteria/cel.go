package criteria

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/decls"
	"github.com/google/cel-go/common/types"

	"github.com/covault/station/pkg/contracts"
)

// celEvaluator compiles and caches expression-criteria programs. An
// expression sees the request's observable attributes and must yield a bool;
// non-bool results and evaluation errors fail closed to Rejected.
type celEvaluator struct {
	mu       sync.Mutex
	env      *cel.Env
	programs map[string]cel.Program
}

func newCELEvaluator() (*celEvaluator, error) {
	env, err := cel.NewEnv(
		cel.VariableDecls(
			decls.NewVariable("requester", types.StringType),
			decls.NewVariable("operation_type", types.StringType),
			decls.NewVariable("title", types.StringType),
			decls.NewVariable("summary", types.StringType),
			decls.NewVariable("amount", types.IntType),
			decls.NewVariable("accepted", types.IntType),
			decls.NewVariable("rejected", types.IntType),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL env: %w", err)
	}
	return &celEvaluator{env: env, programs: make(map[string]cel.Program)}, nil
}

// Compile checks an expression at policy-edit time so broken policies are
// rejected before they govern anything.
func (c *celEvaluator) compile(source string) (cel.Program, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prg, ok := c.programs[source]; ok {
		return prg, nil
	}
	ast, issues := c.env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("expression compilation failed: %w", issues.Err())
	}
	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("expression program construction failed: %w", err)
	}
	c.programs[source] = prg
	return prg, nil
}

func (c *celEvaluator) evaluate(source string, req *contracts.Request) (Evaluation, error) {
	if source == "" {
		return Rejected, fmt.Errorf("expression criteria without source")
	}
	prg, err := c.compile(source)
	if err != nil {
		return Rejected, err
	}

	var amount int64
	if req.Operation.Transfer != nil {
		amount = int64(req.Operation.Transfer.Input.Amount)
	}
	accepted, rejected := 0, 0
	for _, a := range req.Approvals {
		if a.Decision == contracts.VoteAccepted {
			accepted++
		} else {
			rejected++
		}
	}

	out, _, err := prg.Eval(map[string]any{
		"requester":      req.RequesterID.String(),
		"operation_type": string(req.Operation.Type),
		"title":          req.Title,
		"summary":        req.Summary,
		"amount":         amount,
		"accepted":       accepted,
		"rejected":       rejected,
	})
	if err != nil {
		// Fail closed.
		return Rejected, nil
	}
	if allowed, ok := out.Value().(bool); ok && allowed {
		return Adopted, nil
	}
	return Rejected, nil
}

// CheckExpression validates an expression ahead of policy persistence.
func (e *Engine) CheckExpression(source string) error {
	_, err := e.cel.compile(source)
	return err
}
