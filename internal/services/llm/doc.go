// Package llm provides an OpenRouter-compatible chat client used to write
// platform captions.
//
// Each call is one HTTP request. Failures are classified with the services
// error kinds (429 as rate limited with Retry-After, 5xx and transport errors
// as transient, 401/403 as auth) so the outbox retry policy decides whether
// and when to try again.
//
// # Entry Points
//
// NewClient: construct client from Config.
// Client.GenerateCaption: platform caption plus hashtags for a source text.
// Client.CompleteJSON: send system/user prompts, receive JSON response.
// Client.HealthCheck: verify API key and model availability.
package llm
