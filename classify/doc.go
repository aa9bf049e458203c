// Package classify decides which recovered strings look like environment
// variable names.
//
// The rules are heuristics tuned for names like DATABASE_URL or
// STRIPE_API_KEY: a restricted charset, a length window, mostly letters,
// and either a SCREAMING_SNAKE_CASE shape or a well-known keyword. A
// denylist removes runtime noise that passes the shape test. DefaultRules
// holds the built-in tables; LoadRules reads YAML overrides.
package classify
