// Package config loads the fleetdeck application configuration and validates
// provider definition files.
//
// The application configuration is a YAML file layered over Default and
// environment overrides (FLEETDECK_PROJECT, FLEETDECK_DB). It is checked with
// struct tags before use.
//
// Provider files declare sync bindings:
//
//	providers:
//	  - name: prod-k8s
//	    group: prod
//	    config:
//	      kind: cluster
//	      cluster:
//	        context: prod
//	        private_registries: [registry.example.com/]
//	  - name: legacy
//	    group: legacy
//	    config:
//	      kind: state-backend
//	      state_backend:
//	        backend: s3
//	        bucket: tf-state
//	        key: legacy/terraform.tfstate
//	        region: eu-west-1
//
// They are validated against built-in CUE schemas held by a SchemaRegistry
// before being decoded into provider specs. Violations are reported with
// their path and position.
package config
