// Package jobstore owns the per-job working directories under the jobs root.
//
// Layout of one job:
//
//	<root>/<jobId>/
//	    job.yaml                 current job record
//	    ideal_<name>             uploads, write-once
//	    raw_<name>
//	    instructions_<name>
//	    instructions.txt         extracted instructions, write-once
//	    plan_raw.txt             proposer output, write-once
//	    plan.json                validated plan, write-once
//	    artifacts/               published in one rename
package jobstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/kris-hansen/sheetsmith/utils/fileutil"
	"github.com/kris-hansen/sheetsmith/utils/pipelineerr"
	"gopkg.in/yaml.v3"
)

// Role tags an uploaded file
type Role string

const (
	RoleIdeal        Role = "ideal"
	RoleRaw          Role = "raw"
	RoleInstructions Role = "instructions"
)

// Fixed file names inside a job directory
const (
	StateFile        = "job.yaml"
	InstructionsText = "instructions.txt"
	PlanRaw          = "plan_raw.txt"
	PlanJSON         = "plan.json"
	ArtifactsDir     = "artifacts"
	stagingPattern   = ".artifacts-*"
)

// Store is a jobs root directory
type Store struct {
	root string
}

// Open creates root if needed
func Open(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("jobs directory is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("error creating jobs directory: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute jobs directory
func (s *Store) Root() string { return s.root }

// NewID returns a fresh job identifier
func NewID() string { return uuid.NewString() }

// ValidID accepts only canonical lower-case UUID strings, so an identifier can
// be used as a directory name as is.
func ValidID(id string) bool {
	u, err := uuid.Parse(id)
	return err == nil && u.String() == id
}

// JobDir returns the working directory of a job without touching the disk
func (s *Store) JobDir(id string) (string, error) {
	if !ValidID(id) {
		return "", pipelineerr.New(pipelineerr.ErrNotFound, "job", "invalid job id %q", id)
	}
	return filepath.Join(s.root, id), nil
}

// Create makes the working directory of a new job. It fails if the job
// already exists.
func (s *Store) Create(id string) (string, error) {
	dir, err := s.JobDir(id)
	if err != nil {
		return "", err
	}
	if err := os.Mkdir(dir, 0755); err != nil {
		return "", pipelineerr.Wrap(pipelineerr.ErrWrite, "create job directory", err)
	}
	return dir, nil
}

// Exists reports whether the job has a working directory
func (s *Store) Exists(id string) bool {
	dir, err := s.JobDir(id)
	if err != nil {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// UploadName is the slot name of an upload: role prefix plus sanitized name
func UploadName(role Role, name string) string {
	return string(role) + "_" + fileutil.SanitizeFilename(name)
}

// SaveUpload copies an uploaded file into its write-once slot and returns the
// slot path.
func (s *Store) SaveUpload(id string, role Role, name string, r io.Reader) (string, error) {
	switch role {
	case RoleIdeal, RoleRaw, RoleInstructions:
	default:
		return "", pipelineerr.New(pipelineerr.ErrInput, "save upload", "unknown role %q", role)
	}
	dir, err := s.JobDir(id)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, UploadName(role, name))
	if _, err := fileutil.WriteOnce(path, r); err != nil {
		return "", pipelineerr.Wrap(pipelineerr.ErrWrite, "save "+string(role)+" upload", err)
	}
	return path, nil
}

// WriteOnce stores data under name in the job directory. Names are fixed
// slots; writing a slot twice fails.
func (s *Store) WriteOnce(id, name string, data []byte) error {
	dir, err := s.JobDir(id)
	if err != nil {
		return err
	}
	if _, err := fileutil.WriteOnce(filepath.Join(dir, filepath.Base(name)), bytes.NewReader(data)); err != nil {
		return pipelineerr.Wrap(pipelineerr.ErrWrite, "write "+name, err)
	}
	return nil
}

// ReadFile reads a file from the job directory
func (s *Store) ReadFile(id, name string) ([]byte, error) {
	return s.read(id, filepath.Base(name))
}

func (s *Store) read(id, rel string) ([]byte, error) {
	dir, err := s.JobDir(id)
	if err != nil {
		return nil, err
	}
	data, err := fileutil.SafeReadFile(filepath.Join(dir, rel), 0)
	if errors.Is(err, os.ErrNotExist) {
		return nil, pipelineerr.Wrap(pipelineerr.ErrNotFound, "read "+rel, err)
	}
	return data, err
}

// SaveState replaces the job record. It is the only file in the job
// directory that is rewritten, always through a rename.
func (s *Store) SaveState(id string, v any) error {
	dir, err := s.JobDir(id)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("error encoding job record: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".job-*.yaml")
	if err != nil {
		return pipelineerr.Wrap(pipelineerr.ErrWrite, "save job record", err)
	}
	_, err = tmp.Write(data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), filepath.Join(dir, StateFile))
	}
	if err != nil {
		os.Remove(tmp.Name())
		return pipelineerr.Wrap(pipelineerr.ErrWrite, "save job record", err)
	}
	return nil
}

// LoadState decodes the job record into v
func (s *Store) LoadState(id string, v any) error {
	data, err := s.ReadFile(id, StateFile)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("error parsing job record of %s: %w", id, err)
	}
	return nil
}

// List returns the identifiers of all job directories, sorted
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && ValidID(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Stage creates an empty staging directory for artifacts inside the job
// directory, on the same filesystem as the final location.
func (s *Store) Stage(id string) (string, error) {
	dir, err := s.JobDir(id)
	if err != nil {
		return "", err
	}
	staging, err := os.MkdirTemp(dir, stagingPattern)
	if err != nil {
		return "", pipelineerr.Wrap(pipelineerr.ErrWrite, "create staging directory", err)
	}
	return staging, nil
}

// Publish renames a staging directory to the artifacts directory. Artifacts
// are published once; a second publish fails and leaves the first intact.
func (s *Store) Publish(id, staging string) error {
	dir, err := s.JobDir(id)
	if err != nil {
		return err
	}
	if filepath.Dir(staging) != dir || !strings.HasPrefix(filepath.Base(staging), ".artifacts-") {
		return pipelineerr.New(pipelineerr.ErrWrite, "publish artifacts", "%s is not a staging directory of job %s", staging, id)
	}
	final := filepath.Join(dir, ArtifactsDir)
	if _, err := os.Stat(final); err == nil {
		return pipelineerr.Wrap(pipelineerr.ErrWrite, "publish artifacts", fileutil.ErrSlotTaken)
	}
	if err := os.Rename(staging, final); err != nil {
		return pipelineerr.Wrap(pipelineerr.ErrWrite, "publish artifacts", err)
	}
	return nil
}

// Discard removes a staging directory that will not be published
func (s *Store) Discard(staging string) {
	if staging != "" && strings.HasPrefix(filepath.Base(staging), ".artifacts-") {
		os.RemoveAll(staging)
	}
}

// Published reports whether the job's artifacts directory exists
func (s *Store) Published(id string) bool {
	dir, err := s.JobDir(id)
	if err != nil {
		return false
	}
	info, err := os.Stat(filepath.Join(dir, ArtifactsDir))
	return err == nil && info.IsDir()
}

// ReadArtifact reads one published artifact
func (s *Store) ReadArtifact(id, fileName string) ([]byte, error) {
	if !s.Published(id) {
		return nil, pipelineerr.New(pipelineerr.ErrNotReady, "read artifact", "job %s has no published artifacts", id)
	}
	return s.read(id, filepath.Join(ArtifactsDir, filepath.Base(fileName)))
}
