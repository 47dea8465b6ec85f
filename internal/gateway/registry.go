package gateway

import (
	"errors"
	"log/slog"
)

// ErrNoGatewayAvailable is returned when no active gateway supports the
// requested method.
var ErrNoGatewayAvailable = errors.New("no payment gateway available for the requested method")

// MethodInfo describes one checkout option and the gateways that offer it.
type MethodInfo struct {
	Label    string   `json:"label"`
	Gateways []string `json:"gateways"`
}

// Registry owns the set of configured adapters. Adapters and their
// configuration are read-only process-wide state initialized at startup;
// the registry itself holds no mutable state after construction.
type Registry struct {
	gateways []Gateway
	byName   map[string]Gateway
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger, gateways ...Gateway) *Registry {
	r := &Registry{
		byName: make(map[string]Gateway, len(gateways)),
		logger: logger,
	}
	for _, g := range gateways {
		if !g.ValidateConfig() {
			// An unconfigured gateway is simply absent from the active set.
			logger.Warn("gateway registered without valid config, skipping",
				"gateway", g.Name())
		}
		r.gateways = append(r.gateways, g)
		r.byName[g.Name()] = g
	}
	return r
}

func (r *Registry) Get(name string) (Gateway, bool) {
	g, ok := r.byName[name]
	return g, ok
}

// ActiveGateways filters to adapters whose configuration validates.
func (r *Registry) ActiveGateways() []Gateway {
	var active []Gateway
	for _, g := range r.gateways {
		if g.ValidateConfig() {
			active = append(active, g)
		}
	}
	return active
}

// AvailableGateways narrows the active set to adapters supporting the
// requested payment method.
func (r *Registry) AvailableGateways(amount int64, method string) []Gateway {
	var available []Gateway
	for _, g := range r.ActiveGateways() {
		if _, ok := g.SupportedMethods()[method]; ok {
			available = append(available, g)
		}
	}
	return available
}

// Recommend picks the available gateway with the lowest fee for the amount.
// Ties break in registration order.
func (r *Registry) Recommend(amount int64, method string) (Gateway, error) {
	available := r.AvailableGateways(amount, method)
	if len(available) == 0 {
		return nil, ErrNoGatewayAvailable
	}

	best := available[0]
	bestCost := best.Fees().Cost(amount)
	for _, g := range available[1:] {
		if c := g.Fees().Cost(amount); c < bestCost {
			best = g
			bestCost = c
		}
	}

	r.logger.Debug("gateway recommended",
		"gateway", best.Name(),
		"method", method,
		"amount", amount,
		"estimated_fee", bestCost)
	return best, nil
}

// AllSupportedMethods is the union of methods across active gateways, used
// to render available checkout options.
func (r *Registry) AllSupportedMethods() map[string]MethodInfo {
	methods := make(map[string]MethodInfo)
	for _, g := range r.ActiveGateways() {
		for method, label := range g.SupportedMethods() {
			info, ok := methods[method]
			if !ok {
				info = MethodInfo{Label: label}
			}
			info.Gateways = append(info.Gateways, g.Name())
			methods[method] = info
		}
	}
	return methods
}
