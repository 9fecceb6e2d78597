package aws

import (
	"errors"
	"net"

	"github.com/aws/smithy-go"

	"github.com/yairfalse/cmdb/internal/provider"
)

var permissionCodes = map[string]bool{
	"AccessDenied":                      true,
	"AccessDeniedException":             true,
	"UnauthorizedOperation":             true,
	"AuthFailure":                       true,
	"UnrecognizedClientException":       true,
	"InvalidClientTokenId":              true,
	"OptInRequired":                     true,
	"AWSOrganizationsNotInUseException": true,
}

var notSupportedCodes = map[string]bool{
	"UnsupportedOperation":          true,
	"InvalidAction":                 true,
	"UnknownOperationException":     true,
	"SubscriptionRequiredException": true,
	"InvalidParameterValue":         true,
}

var transientCodes = map[string]bool{
	"Throttling":                             true,
	"ThrottlingException":                    true,
	"ThrottledException":                     true,
	"RequestLimitExceeded":                   true,
	"TooManyRequestsException":               true,
	"ProvisionedThroughputExceededException": true,
	"RequestTimeout":                         true,
	"RequestTimeoutException":                true,
	"ServiceUnavailable":                     true,
	"InternalError":                          true,
	"InternalFailure":                        true,
}

// classify maps an SDK error onto the provider error kinds. Errors that match
// no kind are returned as they are.
func classify(op string, err error) error {
	if err == nil || provider.IsCancelled(err) {
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case permissionCodes[code]:
			return provider.PermissionDenied(op, err)
		case notSupportedCodes[code]:
			return provider.NotSupported(op, err)
		case transientCodes[code], apiErr.ErrorFault() == smithy.FaultServer:
			return provider.Transient(op, err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return provider.Transient(op, err)
	}
	return err
}

// isErrorCode reports whether err carries the given API error code.
func isErrorCode(err error, code string) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == code
}
