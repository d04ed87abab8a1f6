// ABOUTME: Build version information
// ABOUTME: Values are overridable with -ldflags at build time
package version

// Set via -ldflags "-X github.com/Resonate-Protocol/mentor-go/internal/version.Version=..."
var (
	Version      = "0.1.0"
	Product      = "mentor-go"
	Manufacturer = "Resonate"
)

// String returns "product version"
func String() string {
	return Product + " " + Version
}
