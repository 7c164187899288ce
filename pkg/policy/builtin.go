package policy

// BuiltinPolicies returns the policies every engine starts with. They only
// warn; operators block syncs with their own policies.
func BuiltinPolicies() []Policy {
	return []Policy{
		pruneAllPolicy(),
		massPrunePolicy(),
	}
}

// pruneAllPolicy flags a sync that discovered nothing but would remove
// everything the provider owns, the usual sign of a missing namespace or a
// truncated state document.
func pruneAllPolicy() Policy {
	return Policy{
		Name:        "prune-all",
		Description: "Flags syncs that discover nothing and prune every instance the provider owns",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"prune", "safety"},
		Rego: `package fleetdeck.policies.prune_all

import rego.v1

deny contains violation if {
	owned := object.get(input.owned, "instance", 0)
	owned > 0
	object.get(input.discovered, "instance", 0) == 0
	input.changes.instances.pruned == owned

	violation := {
		"message": sprintf("sync discovered no instances and would prune all %d owned by %s", [owned, input.provider.name]),
		"subject": input.provider.group,
	}
}`,
	}
}

// massPrunePolicy flags syncs removing more than half of a provider's
// instances and services at once.
func massPrunePolicy() Policy {
	return Policy{
		Name:        "mass-prune",
		Description: "Flags syncs pruning more than half of the provider's instances and services",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"prune", "safety"},
		Rego: `package fleetdeck.policies.mass_prune

import rego.v1

min_owned := 4

deny contains violation if {
	owned := object.get(input.owned, "instance", 0) + object.get(input.owned, "service", 0)
	owned >= min_owned
	pruned := input.changes.instances.pruned + input.changes.services.pruned
	pruned * 2 > owned

	violation := {
		"message": sprintf("sync would prune %d of %d entities owned by %s", [pruned, owned, input.provider.name]),
		"subject": input.provider.group,
	}
}`,
	}
}
