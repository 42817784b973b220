package topology

// configError signals invalid GPU/node arithmetic in the resource request.
type configError struct{ msg string }

func (e configError) Error() string { return e.msg }

// IsConfigError reports whether err indicates an invalid resource configuration.
func IsConfigError(err error) bool {
	_, ok := err.(configError)
	return ok
}

// insufficientResourcesError signals that the node list cannot satisfy the request.
type insufficientResourcesError struct{ msg string }

func (e insufficientResourcesError) Error() string { return e.msg }

// IsInsufficientResources reports whether err indicates the job ran out of nodes.
func IsInsufficientResources(err error) bool {
	_, ok := err.(insufficientResourcesError)
	return ok
}
