// Package policy provides Open Policy Agent (OPA) backed trust decisions.
//
// A TrustService evaluates the query data.provengine.trust.decision against
// the untrusted signer chains and unsigned artifacts of a transaction. The
// decision document has the shape
//
//	{
//	    "trust_unsigned": bool,
//	    "trusted": ["<leaf sha256 fingerprint>", ...],
//	    "persist": bool,
//	    "reasons": ["...", ...]
//	}
//
// The built-in policy trusts chains containing a certificate whose
// fingerprint is listed in data.provengine.config.trusted_fingerprints, or
// whose leaf subject is listed in trusted_subjects, provided no certificate
// of the chain has expired. Unsigned content is accepted when
// allow_unsigned is true.
//
// Creating a service and deciding:
//
//	svc, err := policy.NewTrustService(logger, map[string]interface{}{
//	    "trusted_subjects": []string{"CN=vendor"},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	checker := trust.NewChecker(trust.WithService(svc))
//
// Custom policies are plain .rego files in package provengine.trust loaded
// with LoadPolicies; a file named trust-default.rego replaces the built-in
// policy. Watch reloads them when they change.
package policy
