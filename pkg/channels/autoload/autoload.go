// Package autoload registers every built-in channel factory. Import it
// for side effects from the binary entry point.
package autoload

import (
	_ "talos/pkg/channels/telegram"
	_ "talos/pkg/channels/web"
)
