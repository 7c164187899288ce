// Package policy evaluates Rego policies against a sync before it commits.
//
// Each policy is a Rego module defining a deny set. The engine evaluates
// the set with an Input describing the provider, what discovery returned,
// what the provider owned before and the reconcile report of the pending
// sync. Entries are message strings or objects:
//
//	package fleetdeck.policies.keep_prod
//
//	import rego.v1
//
//	deny contains violation if {
//		input.provider.group == "prod"
//		input.changes.instances.pruned > 0
//		violation := {
//			"message": "prod instances are pruned by hand only",
//			"severity": "error",
//		}
//	}
//
// Entries of severity error or critical block the sync; the rest are
// reported as warnings. Built-in policies only warn. Policies loaded from
// files default to severity error.
package policy
