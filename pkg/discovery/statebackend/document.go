// Package statebackend discovers Hosts and Services from a Terraform state
// document stored in a local file or an S3 bucket.
package statebackend

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/fleetdeck/fleetdeck/pkg/classify"
	"github.com/fleetdeck/fleetdeck/pkg/discovery"
)

// ModeManaged marks resources created by the state's owner. Data sources use
// mode "data" and are skipped.
const ModeManaged = "managed"

// Document is a Terraform state file (format version 4).
type Document struct {
	Version          int        `json:"version"`
	TerraformVersion string     `json:"terraform_version"`
	Serial           int        `json:"serial"`
	Lineage          string     `json:"lineage"`
	Resources        []Resource `json:"resources"`
}

// Resource is one resource block of the state.
type Resource struct {
	Mode      string     `json:"mode"`
	Type      string     `json:"type"`
	Name      string     `json:"name"`
	Provider  string     `json:"provider"`
	Module    string     `json:"module,omitempty"`
	Instances []Instance `json:"instances"`
}

// Instance is one instance of a resource.
type Instance struct {
	SchemaVersion int                 `json:"schema_version"`
	IndexKey      interface{}         `json:"index_key,omitempty"`
	Attributes    classify.Attributes `json:"attributes"`
}

// Address returns the stable identity of a resource instance:
// "[module.]type.name" with "[index]" when the instance has an index key.
func (r Resource) Address(inst Instance) string {
	var b strings.Builder
	if r.Module != "" {
		b.WriteString(r.Module)
		b.WriteByte('.')
	}
	b.WriteString(r.Type)
	b.WriteByte('.')
	b.WriteString(r.Name)

	switch key := inst.IndexKey.(type) {
	case nil:
	case float64:
		b.WriteString("[" + strconv.FormatFloat(key, 'f', -1, 64) + "]")
	case string:
		b.WriteString("[" + strconv.Quote(key) + "]")
	default:
		fmt.Fprintf(&b, "[%v]", key)
	}
	return b.String()
}

// ParseDocument decodes a state document.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: state document: %v", discovery.ErrDecode, err)
	}
	if doc.Version != 0 && doc.Version < 4 {
		return nil, fmt.Errorf("%w: unsupported state format version %d", discovery.ErrDecode, doc.Version)
	}
	return &doc, nil
}
