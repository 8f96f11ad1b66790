// Package errors provides examples of structured error handling in adsync.
package errors_test

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/adsync/pkg/errors"
)

// Example demonstrates basic error creation and details.
func Example() {
	err := errors.New(errors.ErrorTypeQuery, "search request rejected").
		WithDetail("customer_id", "1234567890").
		WithDetail("status", 400)

	fmt.Println(err.Error())

	// Output:
	// query: search request rejected
}

// ExampleWrap shows how to wrap existing errors with context.
func ExampleWrap() {
	err := errors.Wrap(io.ErrUnexpectedEOF, errors.ErrorTypeState, "failed to read state file").
		WithDetail("path", "state.json")

	if errors.IsType(err, errors.ErrorTypeState) {
		fmt.Println("This is a state error")
	}
	fmt.Println(err)

	// Output:
	// This is a state error
	// state: failed to read state file: unexpected EOF
}

// Example_errorChain shows how a failed stream sync reads once wrapped by the scheduler.
func Example_errorChain() {
	cause := errors.New(errors.ErrorTypeAuthentication, "token refresh failed")
	err := errors.Wrap(cause, errors.ErrorTypeSync, "stream sync failed").
		WithDetail("stream", "campaigns").
		WithDetail("customer_id", "222")

	fmt.Println(err)
	fmt.Println(errors.DetailsOf(err)["stream"])
	fmt.Println(errors.IsType(err, errors.ErrorTypeAuthentication))

	// Output:
	// sync: stream sync failed: authentication: token refresh failed
	// campaigns
	// false
}
