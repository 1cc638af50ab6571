// Package appfs exposes the embedded application files: database migrations,
// email templates and other static assets.
package appfs

import "embed"

// _base.txt must be named explicitly: embed skips underscore-prefixed files
// when walking directories.
//go:embed migrations assets assets/templates/email/_base.txt
var FS embed.FS
