package dispatch

import "errors"

var ErrInvalidUpload = errors.New("invalid upload")
