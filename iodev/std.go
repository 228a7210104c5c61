package iodev

// The three reserved descriptors wrapped as devices. They are adopted,
// not duplicated: closing a std device closes the process descriptor.

// Stdin adopts descriptor 0.
func Stdin() (*Device, error) {
	return OpenFd(0, false, true)
}

// Stdout adopts descriptor 1.
func Stdout() (*Device, error) {
	return OpenFd(1, false, true)
}

// Stderr adopts descriptor 2.
func Stderr() (*Device, error) {
	return OpenFd(2, false, true)
}
