package policy

import (
	"time"
)

// DecisionQuery is the Rego query producing a Decision document.
const DecisionQuery = "data.provengine.trust.decision"

// BuiltinPolicyName names the default trust policy.
const BuiltinPolicyName = "trust-default"

// GetBuiltinPolicies returns the built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		defaultTrustPolicy(),
	}
}

// defaultTrustPolicy trusts signers listed by fingerprint or subject in
// data.provengine.config and accepts unsigned content only when
// allow_unsigned is set.
func defaultTrustPolicy() Policy {
	return Policy{
		Name:        BuiltinPolicyName,
		Description: "Trusts configured signer fingerprints and subjects; unsigned content only when allowed",
		Enabled:     true,
		LoadedAt:    time.Now(),
		Rego: `package provengine.trust

import rego.v1

default config := {}

config := data.provengine.config

default allow_unsigned := false

allow_unsigned if config.allow_unsigned == true

trusted_fingerprint(cert) if {
	some fp in object.get(config, "trusted_fingerprints", [])
	lower(fp) == cert.fingerprint
}

trusted_subject(cert) if {
	some subject in object.get(config, "trusted_subjects", [])
	subject == cert.subject
}

trusted_chain(chain) if {
	some cert in chain
	trusted_fingerprint(cert)
}

trusted_chain(chain) if {
	trusted_subject(chain[0])
}

expired(chain) if {
	some cert in chain
	time.parse_rfc3339_ns(cert.not_after) < time.parse_rfc3339_ns(input.timestamp)
}

trusted contains chain[0].fingerprint if {
	some chain in input.chains
	trusted_chain(chain)
	not expired(chain)
}

reasons contains sprintf("signer %s is not trusted", [chain[0].subject]) if {
	some chain in input.chains
	not chain[0].fingerprint in trusted
}

reasons contains sprintf("unsigned content is not allowed: %s", [concat(", ", input.unsigned)]) if {
	count(input.unsigned) > 0
	not allow_unsigned
}

decision := {
	"trust_unsigned": allow_unsigned,
	"trusted": trusted,
	"persist": object.get(config, "persist", false),
	"reasons": reasons,
}
`,
	}
}
