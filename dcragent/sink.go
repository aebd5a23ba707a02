package dcragent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// ErrPermanent marks a collaborator failure that retrying cannot fix, e.g. an
// invalid recipient. Anything not wrapping it is treated as transient and
// retried with backoff.
var ErrPermanent = errors.New("permanent failure")

// ArtifactStore is the persistent store collaborator. Put with the same key
// and content must be an idempotent no-op from the consumer's perspective.
type ArtifactStore interface {
	Put(key string, content []byte) error
}

// Notifier is the notification sink collaborator.
type Notifier interface {
	Send(subject string, body string, recipients []string) error
}

// NopNotifier stands in when mail is disabled: reports are still persisted
// and the dispatch state machine stays uniform.
type NopNotifier struct{}

func (NopNotifier) Send(string, string, []string) error { return nil }

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// ArtifactKey derives the deterministic, collision-free storage key for a
// report id, so a retried write lands on the same artifact.
func ArtifactKey(reportID string) string {
	return fmt.Sprintf("report-%s.json", unsafeKeyChars.ReplaceAllString(reportID, "_"))
}

// FileStore writes report artifacts under a single directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

// Put writes content through a temp file and rename, so an interrupted write
// never leaves a partial artifact and identical retries converge on the same
// file.
func (s *FileStore) Put(key string, content []byte) error {
	tmp, err := os.CreateTemp(s.dir, "."+key+".*")
	if err != nil {
		return classifyFSError(err)
	}
	tmpPath := tmp.Name()
	_, werr := tmp.Write(content)
	cerr := tmp.Close()
	if werr != nil {
		_ = os.Remove(tmpPath)
		return classifyFSError(werr)
	}
	if cerr != nil {
		_ = os.Remove(tmpPath)
		return classifyFSError(cerr)
	}
	if err := os.Rename(tmpPath, filepath.Join(s.dir, key)); err != nil {
		_ = os.Remove(tmpPath)
		return classifyFSError(err)
	}
	return nil
}

func classifyFSError(err error) error {
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	return err
}
