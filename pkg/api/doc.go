// Package api defines the chat-completion wire types served by the gateway
// and the structured error taxonomy shared across packages.
//
// The types follow the de-facto OpenAI Chat Completions shapes so that any
// off-the-shelf client can talk to the gateway without adaptation.
package api
