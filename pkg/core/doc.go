// Package core wires the whole control plane together: store, event bus,
// RAID controller, monitoring, scheduler, tokens, auth, and the file
// layer. Collaborators (CLI, API surfaces) talk to a single Core value;
// there are no package-level singletons.
package core
