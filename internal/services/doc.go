// Package services provides centralized service registry for orchd.
//
// Registry pattern for accessing all core services (goals, deliverables,
// agent directory, scheduler, executor, matcher, decomposer, healer,
// memory, vectorstore, events). Use NewRegistry() to create a registry
// with service instances, then accessor methods to retrieve individual
// services.
package services
