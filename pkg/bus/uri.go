package bus

import (
	"net/url"

	"github.com/fluxorio/appbridge/pkg/core"
)

// Scheme is the URI scheme of bus endpoints
const Scheme = "luna"

// Endpoint is a parsed bus URI
type Endpoint struct {
	Service string // e.g. "com.palm.applicationManager"
	Method  string // e.g. "/registerApplication"
}

// String formats the endpoint as a bus URI
func (e Endpoint) String() string {
	return Scheme + "://" + e.Service + e.Method
}

// ParseURI parses "luna://service/method" into an Endpoint
func ParseURI(uri string) (Endpoint, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return Endpoint{}, &core.Error{Code: core.CodeInvalidURI, Message: "invalid bus uri: " + uri, Err: err}
	}
	if u.Scheme != Scheme {
		return Endpoint{}, &core.Error{Code: core.CodeInvalidURI, Message: "bus uri must use the luna:// scheme: " + uri}
	}
	if u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return Endpoint{}, &core.Error{Code: core.CodeInvalidURI, Message: "bus uri cannot carry query, fragment or user info: " + uri}
	}
	if err := core.ValidateServiceName(u.Host); err != nil {
		return Endpoint{}, err
	}
	if err := core.ValidateMethodPath(u.Path); err != nil {
		return Endpoint{}, err
	}
	return Endpoint{Service: u.Host, Method: u.Path}, nil
}
