package alibaba

import (
	"errors"
	"net/http"
	"strings"

	sdkerrors "github.com/aliyun/alibaba-cloud-sdk-go/sdk/errors"

	"github.com/yairfalse/cmdb/internal/provider"
)

var permissionPrefixes = []string{
	"Forbidden",
	"InvalidAccessKeyId",
	"SignatureDoesNotMatch",
	"NoPermission",
	"EntityNotExist.Role",
}

var transientPrefixes = []string{
	"Throttling",
	"ServiceUnavailable",
	"InternalError",
	"UnknownError",
}

// classify maps an SDK error onto the provider error kinds. Client side
// errors (timeouts, unreachable endpoints) are transient.
func classify(op string, err error) error {
	if err == nil || provider.IsCancelled(err) {
		return err
	}

	var serverErr *sdkerrors.ServerError
	if errors.As(err, &serverErr) {
		code := serverErr.ErrorCode()
		switch {
		case hasPrefix(code, permissionPrefixes) || serverErr.HttpStatus() == http.StatusForbidden:
			return provider.PermissionDenied(op, err)
		case strings.HasPrefix(code, "UnsupportedOperation") || code == "InvalidAction.NotFound":
			return provider.NotSupported(op, err)
		case hasPrefix(code, transientPrefixes) || serverErr.HttpStatus() >= http.StatusInternalServerError:
			return provider.Transient(op, err)
		}
		return err
	}

	var clientErr *sdkerrors.ClientError
	if errors.As(err, &clientErr) {
		return provider.Transient(op, err)
	}
	return err
}

func hasPrefix(code string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(code, p) {
			return true
		}
	}
	return false
}
