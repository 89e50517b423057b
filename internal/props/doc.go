// Package props implements the per-project property stores.
//
// Two stores back every project:
//
//   - Store: a flat name -> scalar map for project-wide settings, persisted
//     synchronously and completely on every mutation (project-settings.json).
//   - Cache: a resource path -> property map cache, loaded once, mutated in
//     memory and flushed to disk out-of-band by the flush scheduler
//     (project-metadata.json).
//
// Values are JSON scalars: string, number, boolean or null. Storage problems
// never surface to callers of the property API; corrupt files degrade to an
// empty store and failures are logged.
package props
