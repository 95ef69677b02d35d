// Package clients contains thin adapters over the Google Cloud APIs the
// service consumes: Policy Analyzer and Asset Inventory for entitlement
// discovery, Resource Manager for IAM policy mutation, the Admin SDK for
// group expansion, IAM Credentials for remote JWT signing, Secret
// Manager, and Pub/Sub.
//
// Each adapter translates Google API HTTP failures into the error kinds
// defined by the apierror package; no other layer inspects HTTP status
// codes.
package clients

import (
	"errors"

	"google.golang.org/api/googleapi"
)

// UserAgent identifies the service in outbound API calls.
const UserAgent = "jitaccess/1.0"

// CloudPlatformScope is the OAuth scope all adapters authenticate with.
const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// apiErrorCode extracts the HTTP status code from a Google API error.
// Returns 0 for transport-level failures.
func apiErrorCode(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return 0
}

// isRetriable reports whether an error is worth a bounded retry:
// quota pushback or a server-side fault.
func isRetriable(err error) bool {
	code := apiErrorCode(err)
	return code == 429 || code >= 500
}
