//go:build !amd64

package hwkit

// KernelBase is zero on instruction sets without a Hardware
// implementation.
const KernelBase uintptr = 0

// Native returns ErrUnsupported.
func Native() (Hardware, error) {
	return nil, ErrUnsupported
}

// Gadgets returns nil.
func Gadgets() map[string]uintptr {
	return nil
}
