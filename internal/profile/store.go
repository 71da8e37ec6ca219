package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jonathan/apply-engine/internal/logging"
)

// Store is the profile persistence abstraction. Load returns nil when a
// section has never been saved.
type Store interface {
	Load(ctx context.Context, section, credential string) ([]byte, error)
	Save(ctx context.Context, section string, doc []byte, credential string) error
	SaveResume(ctx context.Context, data []byte, filename, credential string) error
	Resume(ctx context.Context, credential string) (*ResumeFile, error)
}

// ResumeFile is a decrypted resume with its original filename
type ResumeFile struct {
	Filename string `json:"filename"`
	Data     []byte `json:"data"`
}

const resumeSection = "resume"

// FileStore keeps each section as one encrypted file under a directory
type FileStore struct {
	dir string
}

// NewFileStore creates the storage directory if needed. Files are owner-only.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("profile directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) sectionPath(section string) string {
	return filepath.Join(s.dir, section+".enc")
}

// Load decrypts and returns a section, or nil when it does not exist
func (s *FileStore) Load(ctx context.Context, section, credential string) ([]byte, error) {
	envelope, err := os.ReadFile(s.sectionPath(section))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read section %s: %w", section, err)
	}
	plaintext, err := open(envelope, credential)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt section %s: %w", section, err)
	}
	return plaintext, nil
}

// Save validates, encrypts and writes a section. The profile section must
// pass its JSON Schema before anything touches disk.
func (s *FileStore) Save(ctx context.Context, section string, doc []byte, credential string) error {
	if section == SectionProfile {
		if err := validateProfileJSON(doc); err != nil {
			return err
		}
	}

	envelope, err := seal(doc, credential)
	if err != nil {
		return fmt.Errorf("failed to encrypt section %s: %w", section, err)
	}
	if err := s.writeFile(s.sectionPath(section), envelope); err != nil {
		return fmt.Errorf("failed to write section %s: %w", section, err)
	}
	logging.Named("profile").Infow("Section saved", "section", section, "bytes", len(doc))
	return nil
}

// SaveResume encrypts and stores the resume bytes with their filename
func (s *FileStore) SaveResume(ctx context.Context, data []byte, filename, credential string) error {
	if len(data) == 0 {
		return fmt.Errorf("resume data is empty")
	}
	if filename == "" {
		filename = "resume.pdf"
	}

	doc, err := json.Marshal(ResumeFile{Filename: filepath.Base(filename), Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal resume: %w", err)
	}
	envelope, err := seal(doc, credential)
	if err != nil {
		return fmt.Errorf("failed to encrypt resume: %w", err)
	}
	if err := s.writeFile(s.sectionPath(resumeSection), envelope); err != nil {
		return fmt.Errorf("failed to write resume: %w", err)
	}
	logging.Named("profile").Infow("Resume saved", "filename", filename, "bytes", len(data))
	return nil
}

// Resume decrypts the stored resume, or returns nil when none is stored
func (s *FileStore) Resume(ctx context.Context, credential string) (*ResumeFile, error) {
	raw, err := s.Load(ctx, resumeSection, credential)
	if err != nil || raw == nil {
		return nil, err
	}
	var resume ResumeFile
	if err := json.Unmarshal(raw, &resume); err != nil {
		return nil, fmt.Errorf("failed to unmarshal resume: %w", err)
	}
	return &resume, nil
}

// MaterializeResume writes a decrypted resume copy to a temp file so file
// inputs can reference it by path. cleanup removes the copy; callers must
// invoke it once the upload is done.
func MaterializeResume(resume *ResumeFile) (path string, cleanup func(), err error) {
	if resume == nil || len(resume.Data) == 0 {
		return "", nil, fmt.Errorf("no resume to materialize")
	}

	dir, err := os.MkdirTemp("", "apply-resume-")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	// Keep the original filename; some ATS forms surface it to reviewers.
	path = filepath.Join(dir, resume.Filename)
	if err := os.WriteFile(path, resume.Data, 0o600); err != nil {
		_ = os.RemoveAll(dir)
		return "", nil, fmt.Errorf("failed to write resume copy: %w", err)
	}
	return path, func() { _ = os.RemoveAll(dir) }, nil
}

// writeFile writes atomically: temp file in the same dir, then rename.
func (s *FileStore) writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
