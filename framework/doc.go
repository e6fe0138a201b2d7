// Package framework is the catalog framework: it owns the source registry,
// routes a query request to the sources it names (or the local source, or
// every source for enterprise queries), leaves out unavailable sources and
// hands the rest to a federation strategy. Ingest and delete go to the local
// source when it is a catalog.Store.
package framework
