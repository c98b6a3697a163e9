// Package location resolves the backend collection path an adapter works on.
package location

import "errors"

// ErrPathUnavailable is returned when a deferred provider has no path yet,
// typically because the identity it depends on is not known.
var ErrPathUnavailable = errors.New("collection path not available")

// Provider yields the collection path. Resolve is called before every adapter
// operation and its result is never cached.
type Provider interface {
	Resolve() (string, error)
}

type static string

// Static returns a provider that always resolves to path. An empty path
// resolves to ErrPathUnavailable.
func Static(path string) Provider {
	return static(path)
}

func (s static) Resolve() (string, error) {
	if s == "" {
		return "", ErrPathUnavailable
	}
	return string(s), nil
}

// Func adapts a function to a Provider. The function reports false while the
// path cannot be computed.
type Func func() (string, bool)

func (f Func) Resolve() (string, error) {
	if f == nil {
		return "", ErrPathUnavailable
	}
	path, ok := f()
	if !ok || path == "" {
		return "", ErrPathUnavailable
	}
	return path, nil
}
