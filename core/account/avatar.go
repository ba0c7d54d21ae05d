package account

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

const avatarDir = "profiles"

var avatarExts = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
}

type avatarFile struct {
	path string
	data []byte
}

func (af *avatarFile) content() io.Reader { return bytes.NewReader(af.data) }

// readAvatar loads an uploaded avatar in memory and checks its size and sniffed content type.
func (svc *Service) readAvatar(up *core.Upload) (*avatarFile, error) {
	maxSize := svc.conf.Storage.MaxAvatarSize
	tooLarge := core.NewFieldValidationError("image",
		fmt.Sprintf("The image may not be greater than %d kilobytes.", maxSize/1024))
	if up.Size > maxSize {
		return nil, tooLarge
	}

	data, err := io.ReadAll(io.LimitReader(up.Content, maxSize+1))
	if err != nil {
		return nil, errors.Wrap(err, "reading avatar")
	}
	if int64(len(data)) > maxSize {
		return nil, tooLarge
	}

	ext, ok := avatarExts[http.DetectContentType(data)]
	if !ok {
		return nil, core.NewFieldValidationError("image", "The image must be a file of type: jpeg, png, jpg, gif.")
	}
	return &avatarFile{
		path: path.Join(avatarDir, uuid.New().String()+ext),
		data: data,
	}, nil
}
