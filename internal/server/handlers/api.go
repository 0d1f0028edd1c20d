package handlers

// API bundles the handlers that need live services injected. Routes for nil
// entries are not registered.
type API struct {
	Limiter *LimiterHandler
	Runs    *RunsHandler
}
