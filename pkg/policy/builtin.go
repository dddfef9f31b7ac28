package policy

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		massRemovalPolicy(),
		protectedItemsPolicy(),
	}
}

// massRemovalPolicy denies plans that would tear out most of a subsystem.
// A stale or truncated manifest tends to show up as exactly this shape.
func massRemovalPolicy() Policy {
	return Policy{
		Name:        "mass-removal",
		Description: "Denies sync plans that remove an outsized share of a subsystem's declared items",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"safety", "removal"},
		Rego: `package bootsync.policies.removal

import rego.v1

# A removal count at or past the configured minimum that also exceeds
# the configured share of declared items denies the whole run.
deny contains violation if {
	some sub in input.subsystems
	sub.removals >= data.bootsync.config.mass_removal_min
	sub.removals > data.bootsync.config.mass_removal_share * sub.declared
	violation := {
		"message": sprintf("%s plan removes %d items against %d declared", [sub.subsystem, sub.removals, sub.declared]),
		"severity": "error",
		"subsystem": sub.subsystem,
	}
}`,
	}
}

// protectedItemsPolicy refuses to remove any item whose attributes carry
// protected=true, whatever the rest of the plan looks like.
func protectedItemsPolicy() Policy {
	return Policy{
		Name:        "protected-items",
		Description: "Denies removal of items marked protected in their attributes",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"safety", "removal"},
		Rego: `package bootsync.policies.protected

import rego.v1

deny contains violation if {
	some sub in input.subsystems
	some action in sub.actions
	action.action == "remove"
	action.attrs.protected == true
	violation := {
		"message": sprintf("item %s in %s is marked protected and cannot be removed", [action.item_id, sub.subsystem]),
		"severity": "critical",
		"subsystem": sub.subsystem,
	}
}`,
	}
}
