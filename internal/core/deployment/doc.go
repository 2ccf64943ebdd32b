// Package deployment compiles a system description into a deployment plan.
//
// This package is the functional core of topoplan. It performs no I/O; its
// only side effects are on the *domain.System it is given, which it mutates
// phase by phase. Diagnostics go to an explicit domain.Sink and never change
// the outcome.
//
// # Functions
//
//   - Ordering: build and linearize module and application dependency graphs
//     (ModuleDependencies, AppDependencies, Linearize, ModuleOrder, AppOrder, ExportDOT)
//   - Classification: turn endpoint groups into queues and network links (Classify, ClassifySystem)
//   - Network: insert QueueToNetwork and NetworkToQueue adapters (AddNetwork)
//   - Fragments: wire fragment producers to the dataflow application
//     (ConnectFragmentProducers, SetTriggerLinks)
//   - Commands: infer queues and build lifecycle command payloads (InferQueues, BuildAppCommands)
//   - Naming: generate queue, adapter, endpoint and address names
//
// # Usage
//
// The shell builds a *domain.System (usually through the description
// package), then calls Compile and hands the plan to a writer or store.
//
//	plan, err := deployment.Compile(system, deployment.DefaultCompileOptions(), sink)
//	if err != nil {
//	    return err
//	}
//	for _, w := range plan.Warnings {
//	    log.Warn(w.Message, "app", w.App, "endpoint", w.Subject)
//	}
package deployment
