// Package classify holds the rules shared by the discovery adapters: which
// workloads are the operator's own Instances, how display names are derived
// from owner references, and the static table that maps Terraform resource
// types to entity roles with their endpoint and port extractors.
package classify
