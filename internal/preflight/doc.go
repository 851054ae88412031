// Package preflight provides readiness checks for the collaborators and
// filesystem paths tweetcast depends on.
//
// These checks run in two contexts:
//   - The daemon logs RunAll results at startup. Failures are reported but do
//     not stop the workers; the affected stage fails its jobs instead.
//   - The CLI "tweetcast status" command renders the same results.
package preflight
