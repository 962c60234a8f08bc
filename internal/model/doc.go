// Package model defines the generative model abstraction used by responders.
//
// A Model turns a prompt into a Stream of text Chunks. Providers live in
// subpackages (model/openai, model/anthropic) and are selected from
// configuration by model/providers. MockModel is a scriptable in-memory
// Model for tests and local runs.
package model
