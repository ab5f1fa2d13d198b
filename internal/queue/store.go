package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	jobExt   = ".json"
	errorExt = ".error.json"
	tmpInfix = ".tmp-"
)

var (
	ErrJobNotFound      = errors.New("job not found")
	ErrInvalidJobID     = errors.New("invalid job id")
	ErrInvalidStage     = errors.New("invalid stage")
	ErrMalformedPayload = errors.New("malformed job payload")
)

// ErrorInfo is persisted next to a parked job in the failed stage.
type ErrorInfo struct {
	JobID    string    `json:"jobId"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failedAt"`
}

// Store keeps one JSON file per job under three sibling stage directories.
// Every stage transition is a single rename within the queue root.
type Store struct {
	root       string
	retries    int
	retryDelay time.Duration
}

func NewStore(root string, retries int, retryDelay time.Duration) *Store {
	if retries < 1 {
		retries = 1
	}
	return &Store{
		root:       root,
		retries:    retries,
		retryDelay: retryDelay,
	}
}

func (s *Store) Root() string {
	return s.root
}

func (s *Store) EnsureDirs() error {
	for _, stage := range allStages {
		if err := os.MkdirAll(s.dir(stage), 0o755); err != nil {
			return fmt.Errorf("failed to create %s directory: %w", stage, err)
		}
	}
	return nil
}

// Path returns the location of the job file for id in stage.
func (s *Store) Path(stage Stage, id string) string {
	return filepath.Join(s.dir(stage), id+jobExt)
}

// Write persists payload as <id>.json in stage. The bytes land in a temp file
// first and are renamed into place, so the final name only ever holds a
// complete document.
func (s *Store) Write(stage Stage, id string, payload map[string]any) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if !stage.valid() {
		return ErrInvalidStage
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", id, err)
	}

	return s.writeFile(s.dir(stage), id+jobExt, data)
}

// Read decodes the payload of a job in stage.
func (s *Store) Read(stage Stage, id string) (map[string]any, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.Path(stage, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to read job %s: %w", id, err)
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedPayload)
	}

	return payload, nil
}

// Move renames a job file between stages. A missing source file means the job
// is no longer claimable and is reported as ErrJobNotFound.
func (s *Store) Move(id string, from, to Stage) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if !from.valid() || !to.valid() {
		return ErrInvalidStage
	}

	src := s.Path(from, id)
	if err := os.Rename(src, s.Path(to, id)); err != nil {
		if _, statErr := os.Lstat(src); errors.Is(statErr, fs.ErrNotExist) {
			return ErrJobNotFound
		}
		return fmt.Errorf("failed to move job %s from %s to %s: %w", id, from, to, err)
	}
	return nil
}

// Remove deletes a job file. Removing a job that does not exist is not an error.
func (s *Store) Remove(stage Stage, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	return removeIfExists(s.Path(stage, id))
}

func (s *Store) Exists(stage Stage, id string) bool {
	if ValidateID(id) != nil {
		return false
	}
	_, err := os.Stat(s.Path(stage, id))
	return err == nil
}

// ModTime reports when the job file in stage last changed. Renames keep the
// modification time, so for parked jobs this is the time of the last write.
func (s *Store) ModTime(stage Stage, id string) (time.Time, error) {
	info, err := os.Stat(s.Path(stage, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, ErrJobNotFound
		}
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// List returns the ids of all jobs in stage in lexicographic order. Temp files
// and error sidecars are skipped. A missing stage directory lists as empty.
func (s *Store) List(stage Stage) ([]string, error) {
	if !stage.valid() {
		return nil, ErrInvalidStage
	}

	entries, err := os.ReadDir(s.dir(stage))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list %s jobs: %w", stage, err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, jobExt) || strings.HasSuffix(name, errorExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, jobExt))
	}

	sort.Strings(ids)
	return ids, nil
}

// WriteError stores failure detail as <id>.error.json in the failed stage.
func (s *Store) WriteError(info ErrorInfo) error {
	if err := ValidateID(info.JobID); err != nil {
		return err
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode error info: %w", err)
	}

	return s.writeFile(s.dir(StageFailed), info.JobID+errorExt, data)
}

func (s *Store) ReadError(id string) (ErrorInfo, error) {
	var info ErrorInfo
	if err := ValidateID(id); err != nil {
		return info, err
	}

	data, err := os.ReadFile(filepath.Join(s.dir(StageFailed), id+errorExt))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return info, ErrJobNotFound
		}
		return info, fmt.Errorf("failed to read error info for %s: %w", id, err)
	}

	if err := json.Unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("failed to decode error info for %s: %w", id, err)
	}
	return info, nil
}

func (s *Store) RemoveError(id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	return removeIfExists(filepath.Join(s.dir(StageFailed), id+errorExt))
}

func (s *Store) dir(stage Stage) string {
	return filepath.Join(s.root, stage.Dir())
}

func (s *Store) writeFile(dir, name string, data []byte) error {
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(s.retryDelay), uint64(s.retries-1))

	err := backoff.Retry(func() error {
		return writeAtomic(dir, name, data)
	}, policy)
	if err != nil {
		return fmt.Errorf("failed to write %s after %d attempts: %w", name, s.retries, err)
	}
	return nil
}

func writeAtomic(dir, name string, data []byte) error {
	tmp := filepath.Join(dir, name+tmpInfix+strconv.FormatInt(time.Now().UnixNano(), 10))

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, filepath.Join(dir, name)); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", filepath.Base(path), err)
	}
	return nil
}
