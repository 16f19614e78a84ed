// Package feed defines the core types shared across the ingestion pipeline:
// the source list handed in by the curation tooling, the normalized item
// model, per-source fetch outcomes, persisted health records, and the JSON
// artifacts consumed by the downstream report stages.
package feed
