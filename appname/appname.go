// Package appname translates application instance names between the shell's
// naming convention and the backend SDK's native one.
//
// Only the default instance differs between the two conventions; every other
// name is passed through byte-for-byte.
package appname

const (
	// DefaultShellName is the name the shell uses for the default app.
	DefaultShellName = "[DEFAULT]"
	// DefaultBackendName is the backend SDK's native name for the default app.
	DefaultBackendName = "__FIRAPP_DEFAULT"
)

// ToBackend converts a shell app name into the backend's native name.
// If name is not DefaultShellName it is returned unchanged.
func ToBackend(shellName string) string {
	if shellName == DefaultShellName {
		return DefaultBackendName
	}
	return shellName
}

// ToShell converts a backend native app name into the shell's name.
// If name is not DefaultBackendName it is returned unchanged.
func ToShell(backendName string) string {
	if backendName == DefaultBackendName {
		return DefaultShellName
	}
	return backendName
}

// IsDefault reports whether shellName refers to the default app.
func IsDefault(shellName string) bool {
	return shellName == DefaultShellName
}
