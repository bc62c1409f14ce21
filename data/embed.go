// Package data carries the stock captcha asset set: background scenes
// under image/ and puzzle piece shapes under puzzle/. Deployments that
// want their own art point --assets-dir at a directory with the same
// layout.
package data

import "embed"

var (
	//go:embed all:image all:puzzle
	Assets embed.FS
)
