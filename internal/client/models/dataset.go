// Package models defines the dataset, upload and ingestion types shared by
// the ddictl client layers.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Access is the visibility level of a dataset.
type Access string

const (
	AccessPublic  Access = "public"
	AccessProject Access = "project"
	AccessUser    Access = "user"
)

func ParseAccess(s string) (Access, error) {
	switch a := Access(strings.ToLower(strings.TrimSpace(s))); a {
	case AccessPublic, AccessProject, AccessUser:
		return a, nil
	default:
		return "", fmt.Errorf("unknown access %q (want public, project or user)", s)
	}
}

// PushMethod tells the gateway how dataset content arrives.
type PushMethod string

const (
	PushEmpty    PushMethod = "empty"
	PushTransfer PushMethod = "transfer"
)

const (
	untitledPrefix      = "UNTITLED_Dataset_"
	untitledStampLayout = "02-01-2006_15:04:05"
	unknownResourceType = "UNKNOWN resource type"
	defaultDatasetPath  = "./"
)

// DatasetDescriptor is the metadata record of a dataset. InternalID is
// assigned by the server and stays empty until registration succeeds.
type DatasetDescriptor struct {
	InternalID      string     `json:"internal_id" yaml:"internal_id"`
	Access          Access     `json:"access" yaml:"access"`
	Project         string     `json:"project" yaml:"project"`
	Zone            string     `json:"zone,omitempty" yaml:"zone,omitempty"`
	Path            string     `json:"path,omitempty" yaml:"path,omitempty"`
	Title           string     `json:"title" yaml:"title"`
	Contributor     []string   `json:"contributor,omitempty" yaml:"contributor,omitempty"`
	Creator         []string   `json:"creator,omitempty" yaml:"creator,omitempty"`
	Owner           []string   `json:"owner,omitempty" yaml:"owner,omitempty"`
	Publisher       []string   `json:"publisher,omitempty" yaml:"publisher,omitempty"`
	PublicationYear string     `json:"publication_year,omitempty" yaml:"publication_year,omitempty"`
	ResourceType    string     `json:"resource_type,omitempty" yaml:"resource_type,omitempty"`
	PushMethod      PushMethod `json:"push_method,omitempty" yaml:"push_method,omitempty"`
	CreationDate    string     `json:"creation_date,omitempty" yaml:"creation_date,omitempty"`
	Compression     string     `json:"compression,omitempty" yaml:"compression,omitempty"`
	Encryption      string     `json:"encryption,omitempty" yaml:"encryption,omitempty"`
}

// Ref returns the addressing part of the descriptor.
func (d DatasetDescriptor) Ref() DatasetRef {
	return DatasetRef{InternalID: d.InternalID, Access: d.Access, Project: d.Project, Zone: d.Zone}
}

// DatasetRef addresses an existing dataset on the gateway.
type DatasetRef struct {
	InternalID string
	Access     Access
	Project    string
	Zone       string
}

// DatasetSpec lists every field accepted when registering a dataset. Empty
// optional fields are filled by WithDefaults.
type DatasetSpec struct {
	Access          Access
	Project         string
	Zone            string
	Path            string
	Title           string
	Contributor     []string
	Creator         []string
	Owner           []string
	Publisher       []string
	PublicationYear string
	ResourceType    string
	PushMethod      PushMethod
}

// WithDefaults returns a copy of s with the documented defaults applied:
// "UNKNOWN <role>" for each role list, the year of now, an untitled title
// stamped with now, the root path, the empty push method and zone.
func (s DatasetSpec) WithDefaults(now time.Time, zone string) DatasetSpec {
	out := s
	out.Contributor = defaultRole(s.Contributor, "contributor")
	out.Creator = defaultRole(s.Creator, "creator")
	out.Owner = defaultRole(s.Owner, "owner")
	out.Publisher = defaultRole(s.Publisher, "publisher")
	if out.PublicationYear == "" {
		out.PublicationYear = strconv.Itoa(now.Year())
	}
	if out.ResourceType == "" {
		out.ResourceType = unknownResourceType
	}
	if out.Title == "" {
		out.Title = untitledPrefix + now.Format(untitledStampLayout)
	}
	if out.Path == "" {
		out.Path = defaultDatasetPath
	}
	if out.PushMethod == "" {
		out.PushMethod = PushEmpty
	}
	if out.Zone == "" {
		out.Zone = zone
	}
	return out
}

func defaultRole(v []string, role string) []string {
	if len(v) > 0 {
		return append([]string(nil), v...)
	}
	return []string{"UNKNOWN " + role}
}

// Validate checks the fields that have no default.
func (s DatasetSpec) Validate() error {
	if _, err := ParseAccess(string(s.Access)); err != nil {
		return err
	}
	if strings.TrimSpace(s.Project) == "" {
		return fmt.Errorf("project is required")
	}
	switch s.PushMethod {
	case "", PushEmpty, PushTransfer:
	default:
		return fmt.Errorf("unknown push method %q", s.PushMethod)
	}
	return nil
}

// Descriptor converts the DatasetSpec into a descriptor without an internal id.
func (s DatasetSpec) Descriptor() DatasetDescriptor {
	return DatasetDescriptor{
		Access:          s.Access,
		Project:         s.Project,
		Zone:            s.Zone,
		Path:            s.Path,
		Title:           s.Title,
		Contributor:     s.Contributor,
		Creator:         s.Creator,
		Owner:           s.Owner,
		Publisher:       s.Publisher,
		PublicationYear: s.PublicationYear,
		ResourceType:    s.ResourceType,
		PushMethod:      s.PushMethod,
	}
}

// DatasetFilter selects datasets. Empty fields match anything and the set
// fields are combined with AND.
type DatasetFilter struct {
	Access  Access
	Project string
	Title   string
	Zone    string
}

func (f DatasetFilter) Match(d DatasetDescriptor) bool {
	if f.Access != "" && f.Access != d.Access {
		return false
	}
	if f.Project != "" && f.Project != d.Project {
		return false
	}
	if f.Title != "" && f.Title != d.Title {
		return false
	}
	if f.Zone != "" && d.Zone != "" && f.Zone != d.Zone {
		return false
	}
	return true
}

// StringList decodes either a JSON string or an array of strings. The
// gateway is not consistent about the role fields.
type StringList []string

func (l *StringList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*l = nil
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*l = StringList{s}
		return nil
	}
	var v []string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*l = v
	return nil
}

// FlexString decodes a JSON string, number or boolean into a string.
type FlexString string

func (s *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if bytes.Equal(b, []byte("true")) || bytes.Equal(b, []byte("false")) {
		*s = FlexString(b)
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = FlexString(n.String())
	return nil
}
