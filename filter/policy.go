package filter

import (
	"strings"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	"github.com/hashicorp/go-hclog"
	"github.com/mudassirishfaq94/chat-app/globals"
)

// Policy decides whether a new message may be stored. The zero Policy (no expression) allows everything.
type Policy struct {
	source string
	prog   *vm.Program
	logger hclog.Logger
}

// Compile builds a Policy from a boolean expression over Env, f.e. `TextLength <= 500 && !(Lower(Text) contains
// "spam")`. An empty expression yields a Policy that allows every message.
func Compile(expression string) (*Policy, error) {
	p := &Policy{source: strings.TrimSpace(expression), logger: globals.AppLogger.Named("filter")}
	if p.source == "" {
		return p, nil
	}
	prog, err := expr.Compile(p.source, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, err
	}
	p.prog = prog
	return p, nil
}

func (p *Policy) String() string {
	return p.source
}

// Allow evaluates the policy. A runtime error rejects the message.
func (p *Policy) Allow(env Env) bool {
	if p == nil || p.prog == nil {
		return true
	}
	env.Lower = strings.ToLower
	res, err := expr.Run(p.prog, env)
	if err != nil {
		p.logger.Error("could not run message filter", "filter", p.source, "error", err)
		return false
	}
	ok, _ := res.(bool)
	return ok
}
