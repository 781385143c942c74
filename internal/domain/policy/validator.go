package policy

import "fmt"

// ValidationResult carries the outcome of Validate: warnings never block
// loading, errors do. Never panics; always returns a result.
type ValidationResult struct {
	Warnings []string
	Errors   []string
}

// OK reports whether the configuration has no errors (warnings are
// non-fatal).
func (r ValidationResult) OK() bool {
	return len(r.Errors) == 0
}

// Validate checks a PolicyConfig for structural and semantic problems.
// It is a pure function: it never mutates cfg and never panics, matching
// the "result-carrying, not exception-carrying" contract.
func Validate(cfg PolicyConfig) ValidationResult {
	var res ValidationResult

	if cfg.SchemaVersion < 1 || cfg.SchemaVersion > MaxSchemaVersion {
		res.Errors = append(res.Errors, fmt.Sprintf(
			"schema-version %d out of range [1, %d]", cfg.SchemaVersion, MaxSchemaVersion))
	}

	validateKeys(&res, "whitelist", cfg.Whitelist)
	validateKeys(&res, "blacklist", cfg.Blacklist)
	validateRateLimits(&res, "whitelist", cfg.Whitelist)
	validateRateLimits(&res, "blacklist", cfg.Blacklist)

	if cfg.DenyByDefault && len(cfg.Whitelist) == 0 {
		res.Errors = append(res.Errors,
			"deny-by-default is true but whitelist is empty: no tool would ever be exposed")
	}

	if overlap := operationIDOverlap(cfg.Whitelist, cfg.Blacklist); len(overlap) > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"operation-id(s) %v appear in both whitelist and blacklist; blacklist dominates", overlap))
	}

	return res
}

func validateKeys(res *ValidationResult, listName string, policies []EndpointPolicy) {
	for i, p := range policies {
		if p.Key.IsEmpty() {
			res.Errors = append(res.Errors, fmt.Sprintf(
				"%s[%d]: no identifying key set (operation-id, route-template, or display-name required)",
				listName, i))
			continue
		}
		if p.Key.RouteTemplate != "" && p.Key.HTTPMethod == "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"%s[%d]: route-template %q has no http-method; will match any method",
				listName, i, p.Key.RouteTemplate))
		}
	}
}

func validateRateLimits(res *ValidationResult, listName string, policies []EndpointPolicy) {
	for i, p := range policies {
		if p.Effective == nil {
			continue
		}
		rl := p.Effective.RateLimit
		if rl.Strategy == RateLimitStrategyNone {
			continue
		}
		if rl.PermitLimit <= 0 {
			res.Errors = append(res.Errors, fmt.Sprintf(
				"%s[%d]: rate-limit strategy %q requires permit-limit > 0, got %d",
				listName, i, rl.Strategy, rl.PermitLimit))
		}
		if rl.WindowMS < 1 {
			res.Errors = append(res.Errors, fmt.Sprintf(
				"%s[%d]: rate-limit strategy %q requires window-ms >= 1, got %d",
				listName, i, rl.Strategy, rl.WindowMS))
		}
		if rl.QueueLimit < 0 {
			res.Errors = append(res.Errors, fmt.Sprintf(
				"%s[%d]: queue-limit must be >= 0, got %d", listName, i, rl.QueueLimit))
		}
	}
}

// operationIDOverlap returns the operation-ids present in both lists.
func operationIDOverlap(whitelist, blacklist []EndpointPolicy) []string {
	black := make(map[string]bool, len(blacklist))
	for _, p := range blacklist {
		if p.Key.OperationID != "" {
			black[p.Key.OperationID] = true
		}
	}
	var overlap []string
	for _, p := range whitelist {
		if p.Key.OperationID != "" && black[p.Key.OperationID] {
			overlap = append(overlap, p.Key.OperationID)
		}
	}
	return overlap
}
