package classify

import (
	"strings"
)

// Role is the entity role a discovered object maps to.
type Role string

const (
	RoleHost     Role = "host"
	RoleInstance Role = "instance"
	RoleService  Role = "service"
)

// IsPrivateImage reports whether image starts with one of the registry
// prefixes. Empty prefixes never match.
func IsPrivateImage(image string, registries []string) bool {
	for _, prefix := range registries {
		if prefix != "" && strings.HasPrefix(image, prefix) {
			return true
		}
	}
	return false
}

// ClassifyImage maps a workload's primary image to Instance or Service.
func ClassifyImage(image string, registries []string) Role {
	if IsPrivateImage(image, registries) {
		return RoleInstance
	}
	return RoleService
}

// Owner kinds whose names always end in a generated suffix.
var generatedOwnerKinds = map[string]bool{
	"ReplicaSet": true,
	"Job":        true,
}

// DisplayName derives a logical workload name from its controller owner.
// ReplicaSet and Job owners always lose their trailing suffix, other owners
// only when the suffix looks generated. Without an owner the workload's own
// name is returned.
func DisplayName(workloadName, ownerKind, ownerName string) string {
	if ownerName == "" {
		return workloadName
	}
	if generatedOwnerKinds[ownerKind] {
		return trimLastSegment(ownerName)
	}
	return StripHashSuffix(ownerName)
}

// StripHashSuffix removes a trailing "-<hash>" segment when it looks like a
// generated hash, so "web-7f8b9c" becomes "web" while "api-gateway" is kept.
func StripHashSuffix(name string) string {
	i := strings.LastIndexByte(name, '-')
	if i <= 0 || !looksLikeHash(name[i+1:]) {
		return name
	}
	return name[:i]
}

func trimLastSegment(name string) string {
	i := strings.LastIndexByte(name, '-')
	if i <= 0 {
		return name
	}
	return name[:i]
}

// looksLikeHash accepts 5 to 10 lowercase alphanumerics containing at least
// one digit, which covers pod-template hashes and cron job timestamps.
func looksLikeHash(s string) bool {
	if len(s) < 5 || len(s) > 10 {
		return false
	}
	digit := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digit = true
		case r >= 'a' && r <= 'z':
		default:
			return false
		}
	}
	return digit
}
