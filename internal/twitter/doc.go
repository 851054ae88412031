// Package twitter is a small client for the X/Twitter v2 REST API covering
// the lookups the fetch stage needs: user timelines, recent search and
// conversation threads.
package twitter
