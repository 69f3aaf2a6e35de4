package http

import "embed"

// staticFiles хранит CSS/JS страницы захвата прямо в бинаре.
//
//go:embed static
var staticFiles embed.FS
