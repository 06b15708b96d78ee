// Package web embeds the page templates, email templates and static assets.
package web

import "embed"

// FS holds everything under templates/.
//
//go:embed templates
var FS embed.FS

// Static holds the stylesheet served under /static/.
//
//go:embed static
var Static embed.FS
