// Package config loads the engine configuration and plan files.
//
// The engine configuration is YAML:
//
//	data_dir: /var/lib/provengine
//	store:
//	  path: /var/lib/provengine/provengine.db
//	trust:
//	  unsigned: prompt          # allow, prompt or fail
//	  stores:
//	    - path: /etc/provengine/trusted.pem
//	      read_only: true
//	    - path: /var/lib/provengine/accepted.pem
//	  policies: [/etc/provengine/policies]
//	  data:
//	    trusted_subjects: ["CN=Release Signing"]
//	repositories:
//	  - location: /srv/artifacts
//	  - location: sftp://deploy@mirror.example.com/artifacts
//	    ssh:
//	      private_key: /etc/provengine/id_ed25519
//	      known_hosts: /etc/provengine/known_hosts
//	      host_key_policy: accept-new
//	forced_uninstall: false
//	script_timeout: 30s
//	telemetry:
//	  logging:
//	    level: info
//
// Relative paths are resolved against the directory of the file.
//
// A plan names the profile to change, the units involved and the operands
// to apply. Plans are written in CUE or YAML; CUE plans are checked against
// the built-in #Plan schema before decoding:
//
//	profile: {
//		id: "webserver"
//		properties: installFolder: "/opt/web"
//	}
//	units: [{
//		id:      "web"
//		version: "2.0.0"
//		touchpoint: id: "native"
//		artifacts: [{classifier: "binary", id: "web", version: "2.0.0"}]
//		instructions: {
//			install:   "copy(source:${artifact},target:${installFolder}/web)"
//			uninstall: "remove(path:${installFolder}/web)"
//		}
//	}]
//	operands: [{before: "web@1.0.0", after: "web@2.0.0"}]
//
// Every configuration struct is validated with go-playground/validator
// after defaults are applied.
package config
