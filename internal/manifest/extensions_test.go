package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const glMetadata = `[Runtime]
name=org.freedesktop.Platform

[Extension org.freedesktop.Platform.GL]
version=1.4
versions=24.08;1.4
`

func TestParseBaseRuntimeVersion(t *testing.T) {
	assert.Equal(t, "24.08", parseBaseRuntimeVersion(glMetadata))
}

func TestParseBaseRuntimeVersionLastMatchWins(t *testing.T) {
	md := `[Extension org.freedesktop.Platform.GL]
versions=22.08;24.08;1.4
`
	assert.Equal(t, "24.08", parseBaseRuntimeVersion(md))
}

func TestParseBaseRuntimeVersionNoMatch(t *testing.T) {
	assert.Empty(t, parseBaseRuntimeVersion("[Runtime]\nname=org.gnome.Platform\n"))
	assert.Empty(t, parseBaseRuntimeVersion(""))
}

func TestParseBaseRuntimeVersionIgnoresOtherSections(t *testing.T) {
	md := `[Extension org.freedesktop.Platform.Timezones]
versions=24.08
`
	assert.Empty(t, parseBaseRuntimeVersion(md))
}

func TestBuildExtensionRefsSDKExtensions(t *testing.T) {
	remote := &stubRemote{metadata: map[string]string{
		"org.gnome.Platform//48": glMetadata,
	}}
	m := newManifest(t, "com.example.App", map[string]any{
		"id":              "com.example.App",
		"runtime":         "org.gnome.Platform",
		"runtime-version": "48",
		"sdk":             "org.gnome.Sdk",
		"sdk-extensions": []any{
			"org.freedesktop.Sdk.Extension.rust-stable",
			"org.freedesktop.Sdk.Extension.llvm18",
		},
	}, remote)

	// SDK extensions follow the base runtime branch, not the app's
	// runtime-version.
	assert.Equal(t, []string{
		"org.freedesktop.Sdk.Extension.rust-stable//24.08",
		"org.freedesktop.Sdk.Extension.llvm18//24.08",
	}, m.BuildExtensionRefs())
}

func TestBuildExtensionRefsUnresolvedBaseBranch(t *testing.T) {
	m := newManifest(t, "com.example.App", map[string]any{
		"id":              "com.example.App",
		"runtime":         "org.gnome.Platform",
		"runtime-version": "48",
		"sdk":             "org.gnome.Sdk",
		"sdk-extensions":  []any{"org.freedesktop.Sdk.Extension.rust-stable"},
	}, &stubRemote{})

	assert.Empty(t, m.BuildExtensionRefs())
}

func TestBuildExtensionRefsAddBuildExtensions(t *testing.T) {
	m := newManifest(t, "com.example.App", map[string]any{
		"id": "com.example.App",
		"add-build-extensions": map[string]any{
			"org.freedesktop.Platform.ffmpeg-full": map[string]any{"version": "24.08"},
			"com.example.App.Codecs":               map[string]any{},
		},
	}, &stubRemote{})

	assert.Equal(t, []string{
		"com.example.App.Codecs//stable",
		"org.freedesktop.Platform.ffmpeg-full//24.08",
	}, m.BuildExtensionRefs())
}
