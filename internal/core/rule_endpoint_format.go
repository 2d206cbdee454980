package core

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"

	"synopsis/pkg/domain"
)

const endpointFormats = "ip|hostname_rfc1123|hostname_port|url"

// NewEndpointFormatRule warns about written hosts whose endpoint is neither an
// IP address, a hostname, a host:port pair nor a URL.
func NewEndpointFormatRule() domain.Rule {
	return endpointFormatRule{validate: validator.New()}
}

type endpointFormatRule struct {
	validate *validator.Validate
}

func (endpointFormatRule) Name() string { return "endpoint_format" }

func (r endpointFormatRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, c := range changes {
		if c.Entity != domain.EntityHost || c.Action == domain.ActionDelete {
			continue
		}
		host, ok := c.After.(domain.HostRecord)
		if !ok || host.Endpoint == "" {
			continue
		}
		if err := r.validate.Var(host.Endpoint, endpointFormats); err != nil {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "endpoint_format",
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("host %s endpoint %q is not an address, hostname or URL", host.Name, host.Endpoint),
				Entity:   domain.EntityHost,
				EntityID: host.ID,
			})
		}
	}
	return res, nil
}
