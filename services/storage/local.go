package storagesvc

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

var ErrInvalidPath = errors.New("invalid storage path")

type localStorage struct {
	root string
}

var _ core.FileStorage = (*localStorage)(nil)

// NewLocalStorage stores files on disk under root (created if missing).
func NewLocalStorage(root string) (core.FileStorage, error) {
	vala.BeginValidation().Validate(
		vala.StringNotEmpty(root, "root"),
	).CheckAndPanic()

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, "resolving media root")
	}
	if err = os.MkdirAll(abs, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating media root")
	}
	return &localStorage{root: abs}, nil
}

// resolve maps a slash-separated relative path to a file under root.
func (s *localStorage) resolve(p string) (string, error) {
	clean := path.Clean("/" + p)[1:]
	if clean == "" || clean != p || strings.HasPrefix(clean, "../") {
		return "", ErrInvalidPath
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

func (s *localStorage) Save(ctx context.Context, p string, content io.Reader) error {
	fp, err := s.resolve(p)
	if err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	if err = os.MkdirAll(filepath.Dir(fp), 0o755); err != nil {
		return errors.Wrap(err, "creating directory")
	}

	tmp, err := os.CreateTemp(filepath.Dir(fp), ".upload-*")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after rename

	if _, err = io.Copy(tmp, content); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "writing file")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "closing file")
	}
	return errors.Wrap(os.Rename(tmp.Name(), fp), "moving file")
}

func (s *localStorage) Delete(_ context.Context, p string) error {
	fp, err := s.resolve(p)
	if err != nil {
		return err
	}
	if err = os.Remove(fp); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "deleting file")
	}
	return nil
}

func (s *localStorage) Exists(_ context.Context, p string) (bool, error) {
	fp, err := s.resolve(p)
	if err != nil {
		return false, err
	}
	if _, err = os.Stat(fp); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrap(err, "checking file")
	}
	return true, nil
}
