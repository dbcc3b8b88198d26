// Package engine runs provisioning transactions against a profile.
//
// # Overview
//
// A transaction applies a list of operands to a profile. An operand pairs
// the installed unit it replaces (before) with the unit to install (after);
// either may be missing, which makes the operand an install or an uninstall.
// The engine walks a PhaseSet, and every phase visits every applicable
// operand:
//
//  1. Phase enter: PhaseInitializer enriches the phase parameters
//  2. Operands: OperandInitializer, the phase's actions, OperandCompleter
//  3. Phase exit: PhaseCompleter runs once after all operands
//
// Progress of the whole run is split between phases by weight and reported
// through a progress.Monitor.
//
// # Actions
//
// Units carry per-phase instructions such as
//
//	mkdir(path:${installFolder}/lib);setProperty(key:home,value:${installFolder})
//
// ParseInstructions resolves each statement against the ActionRegistry,
// first as a touchpoint-qualified name, then as a global one. Arguments are
// substituted against the Parameters at call time.
//
// # Rollback
//
// Every executed action is recorded by the Session. When a phase ends in
// ERROR the recorded actions are undone in reverse order, across phases,
// and the profile is restored to its state before the transaction. Forced
// phases downgrade action errors to warnings. A cancelled transaction is
// not rolled back.
//
// # Agent services
//
// Phases look up shared services in the Agent by name: ServiceRepositories
// for artifact sources, and ServiceTrust, ServiceTrustStores and
// ServiceUnsigned for signature checks.
//
// # Errors
//
// Construction and hook failures are EngineErrors carrying an ErrorClass
// (validation, hook, action, fatal, cancel, rollback, download, trust).
// The outcome of a transaction is a status.Status tree in the Report.
package engine
