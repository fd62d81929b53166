// Package registry implements the process-wide resource registries and the ResourceManager composing them.
//
// Registries deduplicate driver clients by configuration fingerprint, database handles by client and database name,
// ContextOptions by context id, and admission-control semaphores by cluster fingerprint. The ResourceManager resolves
// a Connection (client, database, options, semaphore) per context id and guarantees exactly one Connection per id.
//
// All registries tolerate concurrent first access: racing callers converge on one winning instance.
// Entries are never evicted.
package registry
