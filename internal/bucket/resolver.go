// Package bucket resolves bucket names and object keys for step artifacts.
// Everything here is pure: no I/O, no clients.
package bucket

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Lllllllleong/documentworkflow/internal/models"
)

// Role selects which side of the pipeline a bucket serves.
type Role string

const (
	RoleRaw    Role = "raw_bucket"
	RoleTarget Role = "target_bucket"
)

// sapMasterDataKey replaces the project name for SAP master-data targets.
const sapMasterDataKey = "sap_masterdata"

var (
	// ErrBucketNotFound is wrapped by every lookup miss.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrUnsupportedAddressing is returned when no key shape matches the parameters.
	ErrUnsupportedAddressing = errors.New("unsupported object key addressing")
)

// BucketResolutionError wraps any failure to resolve a bucket name.
type BucketResolutionError struct {
	DocumentType models.DocumentType
	Role         Role
	Project      string
	Err          error
}

func (e *BucketResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve bucket name: %v", e.Err)
}

func (e *BucketResolutionError) Unwrap() error {
	return e.Err
}

// Map mirrors the `buckets` section of the configuration. Values are logical
// bucket names; the physical name is looked up in the `s3_buckets` section.
type Map struct {
	Raw    map[string]string            `yaml:"raw_bucket"`
	Target map[string]map[string]string `yaml:"target_bucket"`
}

// Resolver maps (document type, role, project) to a physical bucket name.
type Resolver struct {
	buckets  Map
	physical map[string]string
}

// NewResolver builds a resolver. A nil physical map means logical names are
// used as bucket names directly.
func NewResolver(buckets Map, physical map[string]string) *Resolver {
	return &Resolver{buckets: buckets, physical: physical}
}

// ResolveBucket returns the bucket for the given role. Raw lookups key off the
// project only; target lookups key off document type and then project, with
// SAP master data redirected to the shared SAP bucket.
func (r *Resolver) ResolveBucket(docType models.DocumentType, role Role, project string, sapMasterData bool) (string, error) {
	logical, err := r.logicalName(docType, role, strings.ToUpper(project), sapMasterData)
	if err == nil {
		logical, err = r.physicalName(logical)
	}
	if err != nil {
		return "", &BucketResolutionError{DocumentType: docType, Role: role, Project: project, Err: err}
	}
	return logical, nil
}

func (r *Resolver) logicalName(docType models.DocumentType, role Role, project string, sapMasterData bool) (string, error) {
	switch role {
	case RoleRaw:
		name, ok := r.buckets.Raw[project]
		if !ok || name == "" {
			return "", fmt.Errorf("%w: project %q not found in %q", ErrBucketNotFound, project, role)
		}
		return name, nil

	case RoleTarget:
		byKey, ok := r.buckets.Target[string(docType)]
		if !ok || len(byKey) == 0 {
			return "", fmt.Errorf("%w: unsupported document type %q for %q", ErrBucketNotFound, docType, role)
		}
		key := project
		if docType == models.DocumentTypeMasterData && sapMasterData {
			key = sapMasterDataKey
		}
		name, ok := byKey[key]
		if !ok || name == "" {
			return "", fmt.Errorf("%w: no bucket for key %q in %q", ErrBucketNotFound, key, docType)
		}
		return name, nil

	default:
		return "", fmt.Errorf("%w: unknown bucket role %q", ErrBucketNotFound, role)
	}
}

func (r *Resolver) physicalName(logical string) (string, error) {
	if r.physical == nil {
		return logical, nil
	}
	name, ok := r.physical[logical]
	if !ok || name == "" {
		return "", fmt.Errorf("%w: %q has no configured bucket", ErrBucketNotFound, logical)
	}
	return name, nil
}
