// Package analysis implements the analyze_emotions stage, labelling each
// cached post with an emotion and confidence.
package analysis
