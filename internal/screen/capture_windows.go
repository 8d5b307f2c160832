//go:build windows

package screen

// New creates the platform screen capturer.
// TODO: capture through DXGI desktop duplication.
func New() (Capturer, error) {
	return nil, ErrUnsupported
}
