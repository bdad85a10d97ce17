// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

// Flotilla-node is the worker daemon. It joins the mesh, admits new
// directives into the task ledger, routes them to the capability
// subjects, executes the ones its identity covers in supervised agent
// sessions, gates risky output behind the approval registry, and
// answers operator requests on the administrative channel.
//
// One process per machine. Everything the node shares with the rest of
// the fleet goes through the bus and the ledger; in-process state is
// the session table, the approval registry, and the held-outcome map.
package main
