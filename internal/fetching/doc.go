// Package fetching implements the fetch_tweets stage: it gathers posts for a
// podcast source, applies the request filters, caches the posts and links them
// to the podcast in order.
package fetching
