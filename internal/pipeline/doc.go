// Package pipeline defines the four podcast job types, their retry and
// retention policies, and the JSON payload and result schemas each stage
// accepts and produces.
//
// Policies are fixed at compile time. ValidatePolicies runs at daemon startup
// and DecodePayload is the single validation gate used before a job is stored.
package pipeline
