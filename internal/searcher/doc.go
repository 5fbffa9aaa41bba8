// Package searcher implements the bounded result heap used to collect top-k
// candidates during search.
package searcher
