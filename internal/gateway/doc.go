// Package gateway provides the admission core and the gateway lifecycle.
//
// A Pipeline decides, for every inbound request, whether it may proceed and
// where it goes. Checks run in a fixed order and stop at the first
// rejection: authenticate, rate_limit, authorize, circuit_breaker, route.
// Rejections are *util.AdmissionError values carrying the kind and stage.
//
// # Features
//
//   - Token validation, per-scope rate limiting and CEL route conditions
//   - One circuit breaker per destination, fed by Admission.Finish
//   - Copy-on-write reload of routes, limits, breakers and auth
//   - Read-only snapshots and a Prometheus collector over them
//   - Gateway state management (stopped, starting, running, stopping)
//
// # Usage
//
//	p, err := gateway.Build(ctx, cfg, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	adm, err := p.Admit(ctx, gateway.Inbound{Method: "GET", Path: "/api/users/1"})
//	if err != nil {
//	    status := util.StatusOf(err) // 429, 503, 404, 401 or 403
//	    ...
//	}
//	forwardErr := forward(adm)
//	adm.Finish(forwardErr)
//
// New wraps a pipeline in proxy and admin listeners:
//
//	gw, err := gateway.New(cfg, p, gateway.WithRouteHandler(handler))
//	if err := gw.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer gw.Stop(ctx)
package gateway
