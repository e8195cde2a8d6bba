//go:build !unix

package native

import (
	"errors"
	"os"
)

func isPermission(err error) bool {
	return errors.Is(err, os.ErrPermission)
}
