// Package classifier labels post text with one of the pipeline emotions.
//
// HTTPClassifier calls a remote scoring endpoint. Lexicon is an offline
// keyword and punctuation scorer used when no endpoint is configured.
package classifier
