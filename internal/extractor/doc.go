// Package extractor turns a random point of a random episode into a single
// still image, enforcing a pixel-spread quality bar under a bounded retry
// budget.
package extractor
