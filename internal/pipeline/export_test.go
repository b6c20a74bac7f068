package pipeline

// ResetRegistry clears the process-wide registries between tests.
func ResetRegistry() { resetRegistry() }
