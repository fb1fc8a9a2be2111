package modules

import (
	"context"
	"regexp"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/caregrid/accessgate/pkg/observability"
)

// HMSModule is the hospital management module granted by the industry fallback
const HMSModule = "hms"

var healthcareIndustry = regexp.MustCompile(`(?i)health|clinic|hospital`)

// IndustryFallback maps a tenant industry to modules for tenants with no entitlement rows
func IndustryFallback(industry string) ModuleSet {
	if healthcareIndustry.MatchString(industry) {
		return NewModuleSet(HMSModule)
	}
	return NewModuleSet()
}

// EntitlementSource loads what the gate needs
type EntitlementSource interface {
	ListEntitlements(ctx context.Context, tenantID int64) ([]Entitlement, error)
	GetTenantIndustry(ctx context.Context, tenantID int64) (string, error)
}

// Gate computes the modules a tenant may use
type Gate struct {
	source  EntitlementSource
	metrics *observability.Metrics

	// Fallback decides modules for tenants without any entitlement rows
	Fallback func(industry string) ModuleSet
}

// NewGate creates a gate using IndustryFallback. metrics may be nil.
func NewGate(source EntitlementSource, metrics *observability.Metrics) *Gate {
	return &Gate{source: source, metrics: metrics, Fallback: IndustryFallback}
}

// AllowedModules returns the tenant's enabled modules, or the fallback set when the tenant has
// no entitlement rows at all
func (g *Gate) AllowedModules(ctx context.Context, tenantID int64) (ModuleSet, error) {
	ctx, span := observability.Tracer().Start(ctx, "modules.AllowedModules")
	defer span.End()
	span.SetAttributes(attribute.Int64("tenant.id", tenantID))

	ents, err := g.source.ListEntitlements(ctx, tenantID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if len(ents) > 0 {
		set := NewModuleSet()
		for _, e := range ents {
			if e.Enabled {
				set[e.ModuleKey] = struct{}{}
			}
		}
		g.metrics.RecordModuleGate("entitlements")
		span.SetAttributes(attribute.String("modules.source", "entitlements"))
		return set, nil
	}

	industry, err := g.source.GetTenantIndustry(ctx, tenantID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	fallback := g.Fallback
	if fallback == nil {
		fallback = IndustryFallback
	}
	g.metrics.RecordModuleGate("industry_fallback")
	span.SetAttributes(attribute.String("modules.source", "industry_fallback"))
	return fallback(industry), nil
}
