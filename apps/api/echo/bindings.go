package echoapi

import (
	"io"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/account"
)

const avatarField = "image"

// bindNewAccount binds a JSON or multipart registration. The returned closer releases the uploaded avatar, if any.
func bindNewAccount(ctx echo.Context) (account.NewAccount, io.Closer, error) {
	var data account.NewAccount
	if err := ctx.Bind(&data); err != nil {
		return data, nil, errors.Wrap(err, "binding to NewAccount")
	}

	if !strings.HasPrefix(ctx.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		return data, nil, nil
	}
	fh, err := ctx.FormFile(avatarField)
	if err != nil || fh.Size == 0 {
		return data, nil, nil // image is optional
	}
	f, err := fh.Open()
	if err != nil {
		return data, nil, errors.Wrap(err, "opening avatar")
	}
	data.Image = &core.Upload{Filename: fh.Filename, Size: fh.Size, Content: f}
	return data, f, nil
}

// queryLimit reads the `limit` query param; 0 means unset.
func queryLimit(ctx echo.Context) int {
	limit, err := strconv.Atoi(ctx.QueryParam("limit"))
	if err != nil {
		return 0
	}
	return limit
}
