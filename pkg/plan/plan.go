// Package plan exposes the subscription plan limits that gate repository
// connection. Plans never gate scanning itself.
package plan

import "fmt"

type Plan string

const (
	Free     Plan = "free"
	Pro      Plan = "pro"
	Business Plan = "business"
)

// Unlimited marks a plan without a repository cap.
const Unlimited = -1

// Parse returns the plan for raw, defaulting to Free for empty input.
func Parse(raw string) (Plan, error) {
	switch Plan(raw) {
	case Free, Pro, Business:
		return Plan(raw), nil
	case "":
		return Free, nil
	}
	return "", fmt.Errorf("unknown plan %q", raw)
}

// RepositoryLimit returns the maximum number of connected repositories,
// or Unlimited.
func (p Plan) RepositoryLimit() int {
	switch p {
	case Pro:
		return 10
	case Business:
		return Unlimited
	}
	return 1
}

// CanConnect reports whether a user with current connected repositories may
// connect one more.
func (p Plan) CanConnect(current int) bool {
	limit := p.RepositoryLimit()
	if limit == Unlimited {
		return true
	}
	return current < limit
}
