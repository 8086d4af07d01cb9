// Package entitle holds the billing data model shared by the webhook
// reconciler and the request-time entitlement resolver.
//
// Writes flow in from provider webhooks and checkout creation; reads happen on
// every protected request through Resolver. The two sides share only a Store.
package entitle
