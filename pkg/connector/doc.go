// Package connector is the platform connector framework: a uniform
// capability contract over eight marketing and messaging platforms, with
// shared authentication, throttling, and scheduling machinery.
//
// The framework is organized into several sub-packages:
//
//   - core: Defines the Connector interface, the capability matrix, the
//     content envelope, and the normalized webhook event model. Everything a
//     caller dispatches through is declared here.
//
//   - base: Provides BaseConnector, the foundation every platform connector
//     embeds. It owns the credential bundle, the auth state machine, the
//     per-operation sliding-window rate limiter, and the fallback scheduler
//     used by platforms without native deferred publishing.
//
//   - platforms: One package per platform (metaads, googleads, shopify,
//     whatsapp, twitter, linkedin, tiktok, sendgrid). Each maps the uniform
//     contract onto the provider's API quirks: transport auth schemes, media
//     upload handshakes, and scheduling semantics.
//
//   - media: The transfer pipeline that downloads caller-supplied media URLs
//     and re-uploads them to platforms that require pre-registered assets.
//
//   - registry: Holds live connector instances keyed by instance id. The
//     HTTP dispatch surface resolves every request through it.
//
// Connectors are created through the registry, initialized with a
// platform-shaped credential bundle, and must authenticate before any
// content operation dispatches. Operations a platform cannot structurally
// perform fail fast with a typed unsupported_operation error carrying the
// closest supported alternative.
package connector
